package models

import (
	"encoding/json"
	"fmt"
)

// Known document types for structured field extraction. An empty doc type
// means no structured extraction is requested for the document.
const (
	DocTypeInvoice = "invoice"
	DocTypeReceipt = "receipt"
	DocTypeIDCard  = "id_card"
)

// InvoiceFields is the typed view of extracted_fields for invoices.
type InvoiceFields struct {
	InvoiceNumber string  `json:"invoice_number"`
	VendorName    string  `json:"vendor_name"`
	IssueDate     string  `json:"issue_date"`
	DueDate       string  `json:"due_date"`
	Currency      string  `json:"currency"`
	TotalAmount   float64 `json:"total_amount"`
	TaxAmount     float64 `json:"tax_amount"`
}

// ReceiptFields is the typed view of extracted_fields for receipts.
type ReceiptFields struct {
	MerchantName string  `json:"merchant_name"`
	Date         string  `json:"date"`
	Currency     string  `json:"currency"`
	TotalAmount  float64 `json:"total_amount"`
	PaymentType  string  `json:"payment_type"`
}

// IDCardFields is the typed view of extracted_fields for identity documents.
type IDCardFields struct {
	FullName       string `json:"full_name"`
	DocumentNumber string `json:"document_number"`
	DateOfBirth    string `json:"date_of_birth"`
	ExpiryDate     string `json:"expiry_date"`
	IssuingCountry string `json:"issuing_country"`
}

// DecodeFields decodes raw extracted_fields into the typed struct for the
// given document type. Raw JSON is only carried at the storage boundary;
// callers that know the doc type should work with the typed value.
func DecodeFields(docType string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch docType {
	case DocTypeInvoice:
		var f InvoiceFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode invoice fields: %w", err)
		}
		return &f, nil
	case DocTypeReceipt:
		var f ReceiptFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode receipt fields: %w", err)
		}
		return &f, nil
	case DocTypeIDCard:
		var f IDCardFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode id card fields: %w", err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unknown doc type %q", docType)
	}
}

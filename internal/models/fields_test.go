package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeFields(t *testing.T) {
	t.Run("invoice", func(t *testing.T) {
		raw := json.RawMessage(`{"invoice_number":"INV-42","vendor_name":"ACME","currency":"EUR","total_amount":1200.5}`)
		got, err := DecodeFields(DocTypeInvoice, raw)
		if err != nil {
			t.Fatal(err)
		}
		inv, ok := got.(*InvoiceFields)
		if !ok {
			t.Fatalf("got %T, want *InvoiceFields", got)
		}
		if inv.InvoiceNumber != "INV-42" || inv.TotalAmount != 1200.5 {
			t.Fatalf("decoded %+v", inv)
		}
	})

	t.Run("receipt", func(t *testing.T) {
		raw := json.RawMessage(`{"merchant_name":"Corner Cafe","total_amount":8.4,"payment_type":"card"}`)
		got, err := DecodeFields(DocTypeReceipt, raw)
		if err != nil {
			t.Fatal(err)
		}
		if rec := got.(*ReceiptFields); rec.MerchantName != "Corner Cafe" {
			t.Fatalf("decoded %+v", rec)
		}
	})

	t.Run("id card", func(t *testing.T) {
		raw := json.RawMessage(`{"full_name":"Jane Roe","document_number":"X123"}`)
		got, err := DecodeFields(DocTypeIDCard, raw)
		if err != nil {
			t.Fatal(err)
		}
		if id := got.(*IDCardFields); id.FullName != "Jane Roe" {
			t.Fatalf("decoded %+v", id)
		}
	})

	t.Run("empty raw is nil without error", func(t *testing.T) {
		got, err := DecodeFields(DocTypeInvoice, nil)
		if err != nil || got != nil {
			t.Fatalf("got %v, %v", got, err)
		}
	})

	t.Run("unknown doc type", func(t *testing.T) {
		if _, err := DecodeFields("passport", json.RawMessage(`{}`)); err == nil {
			t.Fatal("expected an error for an unknown type")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := DecodeFields(DocTypeInvoice, json.RawMessage(`{broken`)); err == nil {
			t.Fatal("expected a decode error")
		}
	})
}

package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kmorozov/buyback-system/internal/model"
)

func TestCreateReturnLabel_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/labels" {
			t.Fatalf("path = %s, want /api/labels", r.URL.Path)
		}

		var req labelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderID != 42 {
			t.Fatalf("order id = %d, want 42", req.OrderID)
		}
		if req.Kind != string(model.ShipmentKindReturn) {
			t.Fatalf("kind = %s, want RETURN", req.Kind)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(labelResponse{
			TrackingNumber: "1Z999AA10123456784",
			NetCharge:      21.50,
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	shipment, err := client.CreateReturnLabel(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateReturnLabel error: %v", err)
	}
	if shipment.TrackingNumber != "1Z999AA10123456784" {
		t.Fatalf("tracking = %s", shipment.TrackingNumber)
	}
	if shipment.NetChargeCents != 2150 {
		t.Fatalf("net charge = %d cents, want 2150", shipment.NetChargeCents)
	}
	if shipment.Kind != model.ShipmentKindReturn {
		t.Fatalf("kind = %s, want RETURN", shipment.Kind)
	}
}

func TestCreateLabel_RoundsChargeToCents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(labelResponse{
			TrackingNumber: "1Z999AA10123456785",
			// 20.15*100 в двоичном виде чуть меньше 2015: усечение потеряло бы цент.
			NetCharge: 20.15,
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	shipment, err := client.CreateLabel(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateLabel error: %v", err)
	}
	if shipment.NetChargeCents != 2015 {
		t.Fatalf("net charge = %d cents, want 2015", shipment.NetChargeCents)
	}
}

func TestCreateLabel_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.CreateLabel(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestCreateLabel_NotConfigured(t *testing.T) {
	var client *Client

	_, err := client.CreateLabel(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error for nil client")
	}
}

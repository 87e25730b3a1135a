// Package shipping предоставляет клиент сервиса доставки.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kmorozov/buyback-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом доставки.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// labelRequest описывает запрос на создание транспортной этикетки.
type labelRequest struct {
	OrderID int64  `json:"order_id"`
	Kind    string `json:"kind"`
}

// labelResponse описывает созданную этикетку.
type labelResponse struct {
	TrackingNumber string  `json:"tracking_number"`
	NetCharge      float64 `json:"net_charge"`
}

// NewClient создаёт клиент сервиса доставки по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateLabel запрашивает этикетку для входящей посылки заказа.
func (c *Client) CreateLabel(ctx context.Context, orderID int64) (*model.Shipment, error) {
	return c.createLabel(ctx, orderID, model.ShipmentKindOutbound)
}

// CreateReturnLabel запрашивает этикетку возвратной отправки при отмене заказа.
func (c *Client) CreateReturnLabel(ctx context.Context, orderID int64) (*model.Shipment, error) {
	return c.createLabel(ctx, orderID, model.ShipmentKindReturn)
}

func (c *Client) createLabel(ctx context.Context, orderID int64, kind model.ShipmentKind) (*model.Shipment, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("shipping client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(labelRequest{OrderID: orderID, Kind: string(kind)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := base + "/api/labels"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var label labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&label); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.Shipment{
		OrderID:        orderID,
		Kind:           kind,
		TrackingNumber: label.TrackingNumber,
		NetChargeCents: int64(math.Round(label.NetCharge * 100)),
		Status:         "CREATED",
	}, nil
}

package payment

import (
	"context"
	"fmt"

	"coursepay/internal/domain"

	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

// orderAPI is the slice of the Razorpay SDK this package uses.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayGateway struct {
	orders orderAPI
	logger *zap.Logger
}

func NewRazorpayGateway(keyID, keySecret string, logger *zap.Logger) PaymentGateway {
	client := razorpay.NewClient(keyID, keySecret)
	return &razorpayGateway{orders: client.Order, logger: logger}
}

func (g *razorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*domain.RemoteOrder, error) {
	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}

	body, err := callWithContext(ctx, func() (map[string]interface{}, error) {
		return g.orders.Create(data, nil)
	})
	if err != nil {
		g.logger.Error("razorpay order creation failed", zap.String("receipt", receipt), zap.Error(err))
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}

	order := &domain.RemoteOrder{
		ID:       stringField(body, "id"),
		Entity:   stringField(body, "entity"),
		Amount:   int64Field(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
		Notes:    notes,
	}
	if order.ID == "" {
		return nil, fmt.Errorf("razorpay create order: response has no id")
	}
	g.logger.Info("razorpay order created", zap.String("remote_order_id", order.ID), zap.String("receipt", receipt))
	return order, nil
}

func (g *razorpayGateway) OrderPayments(ctx context.Context, remoteOrderID string) ([]domain.RemotePayment, error) {
	body, err := callWithContext(ctx, func() (map[string]interface{}, error) {
		return g.orders.Payments(remoteOrderID, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay order payments %s: %w", remoteOrderID, err)
	}

	items, _ := body["items"].([]interface{})
	payments := make([]domain.RemotePayment, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		payments = append(payments, domain.RemotePayment{
			ID:      stringField(fields, "id"),
			OrderID: stringField(fields, "order_id"),
			Status:  domain.RemotePaymentStatus(stringField(fields, "status")),
		})
	}
	return payments, nil
}

// callWithContext runs a blocking SDK call and gives up when ctx is done. The
// SDK call itself keeps running until its own HTTP timeout.
func callWithContext(ctx context.Context, call func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := call()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// int64Field reads a JSON number, which the SDK decodes as float64.
func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

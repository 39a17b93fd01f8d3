package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bookmygas/internal/config"
)

// RazorpayGateway Razorpay 网关适配器
//
// 【关键点】原实现只在前端拿到支付回调就建单 approved，服务端从不验签，
// 伪造一个回调就能白拿一瓶气。这里授权分两步：
// 1. HMAC-SHA256(order_id|payment_id, key_secret) 本地验签
// 2. 调网关查支付单，核对金额和订单号
type RazorpayGateway struct {
	httpClient *http.Client
	keyID      string
	keySecret  string
	baseURL    string
}

func NewRazorpayGateway(cfg *config.RazorpayConfig) *RazorpayGateway {
	return &RazorpayGateway{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		baseURL:    cfg.BaseURL,
	}
}

type razorpayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder 在网关创建订单，金额单位为分（paise）
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, receipt string) (string, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   amount,
		Currency: "INR",
		Receipt:  receipt,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("创建网关订单失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("创建网关订单失败: status=%d", resp.StatusCode)
	}

	var orderResp razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
		return "", err
	}
	if orderResp.ID == "" {
		return "", fmt.Errorf("网关返回的订单号为空")
	}

	return orderResp.ID, nil
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// Authorize 服务端授权校验
func (g *RazorpayGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*ConfirmationToken, error) {
	if req.OrderID == "" || req.PaymentID == "" {
		return nil, fmt.Errorf("%w: 缺少支付凭据", ErrPaymentFailed)
	}

	if !g.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		return nil, fmt.Errorf("%w: 签名校验不通过", ErrPaymentFailed)
	}

	payment, err := g.fetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	if payment.OrderID != req.OrderID {
		return nil, fmt.Errorf("%w: 支付单与订单不匹配", ErrPaymentFailed)
	}
	if payment.Amount != req.Amount {
		return nil, fmt.Errorf("%w: 支付金额不匹配", ErrPaymentFailed)
	}
	if payment.Status != "captured" && payment.Status != "authorized" {
		return nil, fmt.Errorf("%w: 支付状态 %s", ErrPaymentFailed, payment.Status)
	}

	return &ConfirmationToken{
		PaymentRef: payment.ID,
		OrderID:    payment.OrderID,
	}, nil
}

// VerifySignature 校验 Razorpay 回调签名
// 签名算法：HMAC-SHA256(order_id + "|" + payment_id, key_secret)
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (g *RazorpayGateway) fetchPayment(ctx context.Context, paymentID string) (*razorpayPayment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("查询支付单失败: status=%d", resp.StatusCode)
	}

	var payment razorpayPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

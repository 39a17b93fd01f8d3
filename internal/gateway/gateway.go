package gateway

import (
	"context"
	"errors"
)

var ErrPaymentFailed = errors.New("支付授权失败")

// AuthorizeRequest 预付授权请求
// OrderID/PaymentID/Signature 是客户端完成收银台后回传的支付凭据，
// 服务端必须重新验签，客户端上报的"支付成功"不作数
type AuthorizeRequest struct {
	Amount    int64  // 应付金额（分）
	OrderID   string // 网关订单号（CreateOrder 返回）
	PaymentID string // 网关支付号
	Signature string // 网关签名
}

// ConfirmationToken 授权通过后的确认凭证，Ledger 凭它把预订直接置为 approved
type ConfirmationToken struct {
	PaymentRef string // 写入 Booking.PaymentRef
	OrderID    string
}

// PaymentGateway 支付网关适配器
//
// Ledger 把它当作不透明、可能很慢、可能失败的远程调用，
// 调用期间不得持有任何账户或订单锁
type PaymentGateway interface {
	// CreateOrder 创建网关订单，返回给前端拉起收银台
	CreateOrder(ctx context.Context, amount int64, receipt string) (string, error)
	// Authorize 服务端校验支付凭据，失败返回 ErrPaymentFailed
	Authorize(ctx context.Context, req AuthorizeRequest) (*ConfirmationToken, error)
}

package handler

import (
	"errors"
	"strconv"

	"bookmygas/internal/config"
	"bookmygas/internal/gateway"
	"bookmygas/internal/repository"
	"bookmygas/internal/service"
	"bookmygas/pkg/idgen"
	"bookmygas/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	bookingService *service.BookingService
	adminService   *service.AdminService
	priceService   *service.PriceService
	queryService   *service.QueryService
	gateway        gateway.PaymentGateway
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *Handler {
	return &Handler{
		accountService: service.NewAccountService(db),
		bookingService: service.NewBookingService(db, rdb, cfg, gw),
		adminService:   service.NewAdminService(db, rdb, cfg),
		priceService:   service.NewPriceService(db, cfg),
		queryService:   service.NewQueryService(db),
		gateway:        gw,
	}
}

// writeBusinessError 把 Ledger 的错误翻译成业务错误码
func writeBusinessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrQuotaExhausted):
		response.BusinessError(c, response.CodeQuotaExhausted, err.Error())
	case errors.Is(err, service.ErrNotEligible):
		response.BusinessError(c, response.CodeNotEligible, err.Error())
	case errors.Is(err, service.ErrProfileIncomplete):
		response.BusinessError(c, response.CodeProfileIncomplete, err.Error())
	case errors.Is(err, gateway.ErrPaymentFailed):
		response.BusinessError(c, response.CodePaymentFailed, err.Error())
	case errors.Is(err, repository.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, "操作失败，请刷新后重试")
	case errors.Is(err, repository.ErrBookingNotFound):
		response.BusinessError(c, response.CodeBookingNotFound, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// RegisterRequest 注册回调请求（身份层调用）
type RegisterRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Role   string `json:"role"`
}

// Register 账户创建
// POST /api/v1/account/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.Register(c.Request.Context(), req.UserID, req.Role)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, account)
}

// GetProfile 查询当前用户账户
// GET /api/v1/account/profile
func (h *Handler) GetProfile(c *gin.Context) {
	userID := currentUserID(c)

	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":           account.UserID,
		"quota_remaining":   account.QuotaRemaining,
		"annual_allotment":  12,
		"connection_status": account.ConnectionStatus,
		"mobile":            account.Mobile,
		"address":           account.Address,
	})
}

// UpdateProfileRequest 完善资料请求
type UpdateProfileRequest struct {
	Mobile  *string `json:"mobile"`
	Address *string `json:"address"`
}

// UpdateProfile 完善手机号/配送地址
// POST /api/v1/account/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.UpdateProfile(c.Request.Context(), currentUserID(c), req.Mobile, req.Address); err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "资料已更新"})
}

// ListQuotaEntries 查询当前用户的配额流水
// GET /api/v1/account/quota-entries?page=1&page_size=10
func (h *Handler) ListQuotaEntries(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.queryService.ListQuotaEntries(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ApplyConnection 申请开户
// POST /api/v1/connection/apply
func (h *Handler) ApplyConnection(c *gin.Context) {
	if err := h.accountService.ApplyForConnection(c.Request.Context(), currentUserID(c)); err != nil {
		if errors.Is(err, service.ErrAlreadyApplied) {
			response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
			return
		}
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "开户申请已提交"})
}

// ============================================================
// 预订相关接口
// ============================================================

// CreateBooking 创建预订
// POST /api/v1/booking/create
//
// 【关键点】配额耗尽和未开户都在支付调用之前拦截；
// 支付失败单独报错，让用户知道配额没有被扣
func (h *Handler) CreateBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	// 用户身份以身份层传入的为准，不信任请求体
	req.UserID = currentUserID(c)

	result, err := h.bookingService.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, result)
}

// ListMyBookings 查询当前用户预订历史
// GET /api/v1/booking/list?page=1&page_size=10
func (h *Handler) ListMyBookings(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	bookings, total, err := h.queryService.ListUserBookings(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      bookings,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetBooking 查询预订详情
// GET /api/v1/booking/detail?booking_no=xxx
func (h *Handler) GetBooking(c *gin.Context) {
	bookingNo := c.Query("booking_no")
	if bookingNo == "" {
		response.ParamError(c, "booking_no 参数不能为空")
		return
	}

	booking, err := h.bookingService.GetBooking(c.Request.Context(), bookingNo)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, booking)
}

// CreatePaymentOrder 创建网关订单，前端拿 order_id 拉起收银台
// POST /api/v1/payment/order
func (h *Handler) CreatePaymentOrder(c *gin.Context) {
	price, err := h.priceService.GetPrice(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	orderID, err := h.gateway.CreateOrder(c.Request.Context(), price, idgen.GenerateReceiptNo())
	if err != nil {
		response.BusinessError(c, response.CodePaymentFailed, "支付初始化失败，请改用货到付款")
		return
	}

	response.Success(c, gin.H{
		"order_id": orderID,
		"amount":   price,
		"currency": "INR",
	})
}

// ============================================================
// 管理员接口
// ============================================================

// ListPendingRequests 待审批列表
// GET /api/v1/admin/requests?page=1&page_size=10
func (h *Handler) ListPendingRequests(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	bookings, total, err := h.queryService.ListPendingRequests(c.Request.Context(), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      bookings,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// DecisionRequest 审批请求
type DecisionRequest struct {
	BookingNo string `json:"booking_no" binding:"required"`
}

// ApproveBooking 批准预订
// POST /api/v1/admin/booking/approve
func (h *Handler) ApproveBooking(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.adminService.Approve(c.Request.Context(), req.BookingNo)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, result)
}

// RejectBooking 拒绝预订（返还配额，幂等）
// POST /api/v1/admin/booking/reject
func (h *Handler) RejectBooking(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	operator := strconv.FormatInt(currentUserID(c), 10)
	result, err := h.adminService.Reject(c.Request.Context(), req.BookingNo, operator)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, result)
}

// DeliverBooking 标记送达
// POST /api/v1/admin/booking/deliver
func (h *Handler) DeliverBooking(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.adminService.MarkDelivered(c.Request.Context(), req.BookingNo)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, result)
}

// ListAllBookings 全量预订历史
// GET /api/v1/admin/bookings?status=xxx&page=1&page_size=10
func (h *Handler) ListAllBookings(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	status := c.Query("status")

	bookings, total, err := h.queryService.ListBookings(c.Request.Context(), status, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      bookings,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListConnectionRequests 待审核开户申请
// GET /api/v1/admin/connections
func (h *Handler) ListConnectionRequests(c *gin.Context) {
	accounts, err := h.accountService.ListPendingConnections(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"list": accounts})
}

// ReviewConnectionRequest 开户审核请求
type ReviewConnectionRequest struct {
	UserID  int64 `json:"user_id" binding:"required"`
	Approve *bool `json:"approve" binding:"required"`
}

// ReviewConnection 审核开户申请
// POST /api/v1/admin/connection/review
func (h *Handler) ReviewConnection(c *gin.Context) {
	var req ReviewConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.ReviewConnection(c.Request.Context(), req.UserID, *req.Approve); err != nil {
		if errors.Is(err, repository.ErrConnectionTransition) {
			response.BusinessError(c, response.CodeInvalidTransition, "该申请不在待审核状态")
			return
		}
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "审核完成"})
}

// ListUsers 用户列表
// GET /api/v1/admin/users?page=1&page_size=10
func (h *Handler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	accounts, total, err := h.accountService.ListAccounts(c.Request.Context(), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      accounts,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetPrice 查询当前气瓶价格
// GET /api/v1/admin/settings/price
func (h *Handler) GetPrice(c *gin.Context) {
	price, err := h.priceService.GetPrice(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"price": price})
}

// UpdatePriceRequest 调价请求
type UpdatePriceRequest struct {
	Price int64 `json:"price" binding:"required,gt=0"`
}

// UpdatePrice 更新气瓶价格（只影响之后的新预订）
// PUT /api/v1/admin/settings/price
func (h *Handler) UpdatePrice(c *gin.Context) {
	var req UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.priceService.UpdatePrice(c.Request.Context(), req.Price); err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "价格已更新"})
}

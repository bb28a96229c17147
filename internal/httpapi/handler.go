package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"wifi-voucher/internal/middleware"
	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/config"
	"wifi-voucher/pkg/errutil"
	"wifi-voucher/pkg/health"
	"wifi-voucher/services/reconcile"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

type Handler struct {
	transactions *transaction.Service
	vouchers     *voucher.Service
	engine       *reconcile.Engine
}

type HandlerParams struct {
	fx.In

	Transactions *transaction.Service
	Vouchers     *voucher.Service
	Engine       *reconcile.Engine
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		transactions: p.Transactions,
		vouchers:     p.Vouchers,
		engine:       p.Engine,
	}
}

// ProvideRouter builds the gin engine with the customer and admin surfaces.
func ProvideRouter(cfg *config.Config, h *Handler, admin *AdminHandler, hc health.HealthService) http.Handler {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", hc.Liveness)
	r.GET("/readyz", hc.Readiness)

	api := r.Group("/api")
	{
		api.GET("/get-price-list", h.GetPriceList)
		api.POST("/generate-qr", h.GenerateQR)
		api.GET("/check-status/:trxId", h.CheckStatus)
		api.GET("/get-voucher/:trxId", h.GetVoucher)
		api.POST("/resend-qris-email/:trxId", h.ResendQRISEmail)
		api.POST("/resend-voucher-email/:trxId", h.ResendVoucherEmail)

		adm := api.Group("/admin", middleware.AdminAuth(cfg.Admin.APIKey))
		admin.Register(adm)
	}

	return r
}

// The request's voucher class rides in a field named "type", the name the
// payment page has always submitted.
type generateQRRequest struct {
	Class int64  `json:"type" binding:"required"`
	Email string `json:"email" binding:"required"`
}

type transactionView struct {
	TransactionID string     `json:"transactionId"`
	Class         int64      `json:"class"`
	ClassLabel    string     `json:"classLabel"`
	Amount        int64      `json:"amount"`
	Email         string     `json:"email"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	VoucherIssued bool       `json:"voucherIssued"`
}

func viewOf(trx *transaction.Transaction) transactionView {
	return transactionView{
		TransactionID: trx.TransactionID,
		Class:         trx.Class,
		ClassLabel:    trx.ClassLabel(),
		Amount:        trx.UniqueAmount,
		Email:         trx.Email,
		Status:        string(trx.Status),
		ExpiresAt:     trx.ExpiresAt,
		PaidAt:        trx.PaidAt,
		VoucherIssued: trx.VoucherKey != nil,
	}
}

// GetPriceList lists the sellable classes with their base prices. The final
// payable amount is only known once a sale is opened.
func (h *Handler) GetPriceList(c *gin.Context) {
	type priceView struct {
		Class     int64  `json:"class"`
		Label     string `json:"label"`
		BasePrice int64  `json:"basePrice"`
	}
	var out []priceView
	for _, info := range catalog.All() {
		out = append(out, priceView{Class: int64(info.Class), Label: info.Label, BasePrice: info.BasePrice})
	}
	c.JSON(http.StatusOK, gin.H{"prices": out})
}

func (h *Handler) GenerateQR(c *gin.Context) {
	var req generateQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	order, err := h.transactions.CreatePayment(c.Request.Context(), catalog.Class(req.Class), req.Email)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transactionId": order.Transaction.TransactionID,
		"amount":        order.Transaction.UniqueAmount,
		"qrUrl":         order.QRURL,
		"expiresAt":     order.Transaction.ExpiresAt,
		"emailSent":     order.EmailQueued,
	})
}

// CheckStatus reconciles the single transaction against the settlement feed
// before answering, so a buyer polling right after paying sees the flip
// without waiting for the next sweep.
func (h *Handler) CheckStatus(c *gin.Context) {
	trx, err := h.engine.CheckStatus(c.Request.Context(), c.Param("trxId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewOf(trx))
}

func (h *Handler) GetVoucher(c *gin.Context) {
	res, err := h.vouchers.Claim(c.Request.Context(), c.Param("trxId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"voucherKey":    res.Key,
		"class":         res.Class,
		"alreadyIssued": res.AlreadyIssued,
		"emailSent":     res.EmailQueued,
	})
}

func (h *Handler) ResendQRISEmail(c *gin.Context) {
	queued, err := h.transactions.ResendPaymentCode(c.Request.Context(), c.Param("trxId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emailSent": queued})
}

func (h *Handler) ResendVoucherEmail(c *gin.Context) {
	if err := h.vouchers.Resend(c.Request.Context(), c.Param("trxId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emailSent": true})
}

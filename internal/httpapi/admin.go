package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/errutil"
	"wifi-voucher/pkg/sequence"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

type AdminHandler struct {
	transactions *transaction.Service
	vouchers     *voucher.Service
	sequences    sequence.Allocator
}

type AdminHandlerParams struct {
	fx.In

	Transactions *transaction.Service
	Vouchers     *voucher.Service
	Sequences    sequence.Allocator
}

func NewAdminHandler(p AdminHandlerParams) *AdminHandler {
	return &AdminHandler{
		transactions: p.Transactions,
		vouchers:     p.Vouchers,
		sequences:    p.Sequences,
	}
}

func (h *AdminHandler) Register(r *gin.RouterGroup) {
	r.GET("/get-sequences", h.GetSequences)
	r.POST("/set-sequence", h.SetSequence)
	r.POST("/add-vouchers", h.AddVouchers)
	r.DELETE("/delete-vouchers/:key", h.DeleteVoucher)
	r.GET("/get-all-vouchers", h.GetAllVouchers)
	r.GET("/get-transactions", h.GetTransactions)
	r.DELETE("/delete-transactions/:trxId", h.DeleteTransaction)
	r.DELETE("/delete-all-transactions", h.DeleteAllTransactions)
}

func (h *AdminHandler) GetSequences(c *gin.Context) {
	current, err := h.sequences.Current(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	type seqView struct {
		Class int64 `json:"class"`
		Seq   int64 `json:"seq"`
	}
	out := make([]seqView, 0, len(current))
	for _, info := range catalog.All() {
		out = append(out, seqView{Class: int64(info.Class), Seq: current[info.Class]})
	}
	c.JSON(http.StatusOK, gin.H{"sequences": out})
}

type setSequenceRequest struct {
	Class int64 `json:"class" binding:"required"`
	Value int64 `json:"value"`
}

// SetSequence force-resets one class counter. Still-pending sales keep their
// old amounts, so a collision with a fresh sale is possible until they close;
// such opens are rejected rather than silently doubled.
func (h *AdminHandler) SetSequence(c *gin.Context) {
	var req setSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	pending, err := h.transactions.CountPendingByClass(c.Request.Context(), catalog.Class(req.Class))
	if err != nil {
		c.Error(err)
		return
	}
	if pending > 0 {
		zap.L().Warn("sequence reset with pending sales in flight, amount collisions possible",
			zap.Int64("class", req.Class),
			zap.Int64("pending", pending),
		)
	}

	current, err := h.sequences.Current(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.sequences.Set(c.Request.Context(), catalog.Class(req.Class), req.Value); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"class":        req.Class,
		"previousSeq":  current[catalog.Class(req.Class)],
		"seq":          req.Value,
		"pendingSales": pending,
	})
}

type addVouchersRequest struct {
	Class int64    `json:"class" binding:"required"`
	Keys  []string `json:"keys" binding:"required"`
}

func (h *AdminHandler) AddVouchers(c *gin.Context) {
	var req addVouchersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	added, err := h.vouchers.Add(c.Request.Context(), req.Class, req.Keys)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added})
}

func (h *AdminHandler) DeleteVoucher(c *gin.Context) {
	if err := h.vouchers.Remove(c.Request.Context(), c.Param("key")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("key")})
}

func (h *AdminHandler) GetAllVouchers(c *gin.Context) {
	stock, err := h.vouchers.Stock(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": stock})
}

func (h *AdminHandler) GetTransactions(c *gin.Context) {
	list, err := h.transactions.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]transactionView, 0, len(list))
	for _, trx := range list {
		out = append(out, viewOf(trx))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *AdminHandler) DeleteTransaction(c *gin.Context) {
	trx, err := h.transactions.Delete(c.Request.Context(), c.Param("trxId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": trx.TransactionID})
}

func (h *AdminHandler) DeleteAllTransactions(c *gin.Context) {
	count, err := h.transactions.DeleteAll(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

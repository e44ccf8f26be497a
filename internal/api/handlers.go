package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	werrors "custody/internal/errors"
	"custody/internal/txengine"
	"custody/internal/wallet"
	"custody/pkg/models"
)

type createWalletRequest struct {
	Name      string `json:"name" binding:"required"`
	ChainType string `json:"chain_type" binding:"required"`
	Mnemonic  string `json:"mnemonic"`
}

type sponsorRequest struct {
	SponsorAddress string `json:"sponsor_address"`
	Active         bool   `json:"active"`
}

type statusRequest struct {
	Status string  `json:"status" binding:"required"`
	TxHash *string `json:"tx_hash"`
}

// writeError 按错误类型输出状态码和错误体
func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if we, ok := werrors.As(err); ok {
		body["error"] = we.Message
		body["code"] = we.Code
		body["type"] = we.Type.String()
	}
	var itemErr *werrors.BundleItemError
	if errors.As(err, &itemErr) {
		body["bundle_id"] = itemErr.BundleID
		body["failed_index"] = itemErr.Index
	}
	c.JSON(werrors.HTTPStatus(err), body)
}

func bindError(c *gin.Context, err error) {
	writeError(c, werrors.ErrInvalidRequest("请求参数错误: "+err.Error()))
}

// createWallet 创建或导入钱包，明文助记词只在本次响应中返回
func (s *Server) createWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := s.service.CreateWallet(c.Request.Context(), wallet.CreateRequest{
		Name:      req.Name,
		ChainType: req.ChainType,
		Mnemonic:  req.Mnemonic,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) listWallets(c *gin.Context) {
	wallets, err := s.service.ListWallets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if wallets == nil {
		wallets = []*models.Wallet{}
	}
	c.JSON(http.StatusOK, wallets)
}

func (s *Server) getWallet(c *gin.Context) {
	w, err := s.service.GetWallet(c.Request.Context(), c.Param("wallet_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) getBalance(c *gin.Context) {
	b, err := s.service.GetBalance(c.Request.Context(), c.Param("wallet_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// getTokens 代币列表，refresh=true 时重新查询链上余额
func (s *Server) getTokens(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	tokens, err := s.service.GetTokens(c.Request.Context(), c.Param("wallet_id"), refresh)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": c.Param("wallet_id"),
		"tokens":    tokens,
	})
}

func (s *Server) transferOwnership(c *gin.Context) {
	var ref wallet.OwnerRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		bindError(c, err)
		return
	}
	w, err := s.service.TransferOwnership(c.Request.Context(), c.Param("wallet_id"), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) ownershipHistory(c *gin.Context) {
	records, err := s.service.OwnershipHistory(c.Request.Context(), c.Param("wallet_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []*models.OwnershipTransfer{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) setSponsor(c *gin.Context) {
	var req sponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	w, err := s.service.SetSponsor(c.Request.Context(), c.Param("wallet_id"), req.SponsorAddress, req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) exportMnemonic(c *gin.Context) {
	if !s.apiConfig.AllowMnemonicExport {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "已禁用通过 HTTP 导出助记词",
			"code":  "EXPORT_DISABLED",
		})
		return
	}
	mnemonic, err := s.service.ExportMnemonic(c.Request.Context(), c.Param("wallet_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": c.Param("wallet_id"),
		"mnemonic":  mnemonic,
	})
}

// submitTransaction 提交交易；广播失败时同时返回失败的交易记录
func (s *Server) submitTransaction(c *gin.Context) {
	var req txengine.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	tx, err := s.service.SubmitTransaction(c.Request.Context(), req)
	if err != nil {
		if tx != nil {
			c.JSON(werrors.HTTPStatus(err), gin.H{
				"error":       err.Error(),
				"transaction": tx,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) simulateTransaction(c *gin.Context) {
	var req txengine.SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	tx, err := s.service.SimulateTransaction(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	txs, err := s.service.ListTransactions(c.Request.Context(), c.Param("wallet_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	c.JSON(http.StatusOK, txs)
}

// walletTransaction 读取交易并确认属于路径中的钱包
func (s *Server) walletTransaction(c *gin.Context) (*models.Transaction, bool) {
	tx, err := s.service.GetTransaction(c.Request.Context(), c.Param("tx_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if tx.WalletID != c.Param("wallet_id") {
		writeError(c, werrors.ErrTransactionNotFound())
		return nil, false
	}
	return tx, true
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, ok := s.walletTransaction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tx)
}

// updateTransactionStatus 外部确认回调
func (s *Server) updateTransactionStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if _, ok := s.walletTransaction(c); !ok {
		return
	}
	tx, err := s.service.UpdateTransactionStatus(c.Request.Context(), c.Param("tx_id"), models.TxStatus(req.Status), req.TxHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// createBundle 创建交易包；部分失败时返回已记录的成员和失败位置
func (s *Server) createBundle(c *gin.Context) {
	var req txengine.BundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := s.service.CreateBundle(c.Request.Context(), req)
	if err != nil {
		var itemErr *werrors.BundleItemError
		if errors.As(err, &itemErr) && result != nil {
			c.JSON(werrors.HTTPStatus(err), gin.H{
				"error":        itemErr.Error(),
				"bundle_id":    itemErr.BundleID,
				"failed_index": itemErr.Index,
				"bundle":       result.Bundle,
				"transactions": result.Transactions,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) getBundle(c *gin.Context) {
	result, err := s.service.GetBundle(c.Request.Context(), c.Param("bundle_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

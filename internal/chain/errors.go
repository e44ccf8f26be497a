package chain

import (
	"context"
	"errors"

	werrors "custody/internal/errors"
	"custody/pkg/models"
)

// RPCError 将底层RPC错误转换为传输错误，超时单独标记
func RPCError(chainType models.ChainType, operation string, err error) *werrors.WalletError {
	if we, ok := werrors.As(err); ok {
		return we
	}
	code := werrors.CodeRPCFailed
	message := "链上RPC调用失败"
	if errors.Is(err, context.DeadlineExceeded) {
		code = werrors.CodeRPCTimeout
		message = "链上RPC调用超时"
	}
	return werrors.WrapError(err, werrors.ErrorTypeTransport, werrors.SeverityMedium, code, message).
		WithComponent("chain").
		WithContext("chain", string(chainType)).
		WithContext("operation", operation)
}

// BalanceError 余额查询失败
func BalanceError(chainType models.ChainType, err error) *werrors.WalletError {
	return werrors.ErrBalanceUnavailable(err).
		WithComponent("chain").
		WithContext("chain", string(chainType))
}

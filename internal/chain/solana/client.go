package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient 基于 solana-go rpc.Client 的实现
type RPCClient struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCClient 创建RPC客户端
func NewRPCClient(client *rpc.Client, commitment string) *RPCClient {
	c := rpc.CommitmentType(commitment)
	if commitment == "" {
		c = rpc.CommitmentFinalized
	}
	return &RPCClient{client: client, commitment: c}
}

// GetBalance 查询 lamports 余额
func (c *RPCClient) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := c.client.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, fmt.Errorf("getBalance 返回空结果")
	}
	return out.Value, nil
}

// GetTokenAccounts 查询 SPL Token 程序下的全部代币账户（jsonParsed）
func (c *RPCClient) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	out, err := c.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Commitment: c.commitment, Encoding: solana.EncodingJSONParsed},
	)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, v := range out.Value {
		if v == nil || v.Account.Data == nil {
			continue
		}
		acc, err := ParseTokenAccount(v.Account.Data.GetRawJSON())
		if err != nil {
			return nil, fmt.Errorf("解析代币账户 %s 失败: %w", v.Pubkey, err)
		}
		acc.Account = v.Pubkey.String()
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// parsedTokenAccount jsonParsed 编码的代币账户
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			Owner       string `json:"owner"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals int32  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
		Type string `json:"type"`
	} `json:"parsed"`
	Program string `json:"program"`
}

// ParseTokenAccount 解析 jsonParsed 数据
func ParseTokenAccount(raw json.RawMessage) (TokenAccount, error) {
	if len(raw) == 0 {
		return TokenAccount{}, fmt.Errorf("账户数据不是 jsonParsed 格式")
	}
	var parsed parsedTokenAccount
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return TokenAccount{}, err
	}
	info := parsed.Parsed.Info
	if info.Mint == "" {
		return TokenAccount{}, fmt.Errorf("缺少 mint 字段")
	}
	return TokenAccount{
		Mint:     info.Mint,
		Amount:   info.TokenAmount.Amount,
		Decimals: info.TokenAmount.Decimals,
	}, nil
}

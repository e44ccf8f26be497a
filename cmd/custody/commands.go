package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"custody/internal/app"
	"custody/internal/txengine"
	"custody/internal/wallet"
	"custody/pkg/models"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "钱包管理",
	}

	var name, chainType, mnemonic string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "创建钱包，指定 --mnemonic 时导入已有助记词",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Service.CreateWallet(ctx, wallet.CreateRequest{
					Name:      name,
					ChainType: chainType,
					Mnemonic:  mnemonic,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "钱包名称")
	createCmd.Flags().StringVar(&chainType, "chain", "ETH", "链类型 (ETH | SOL | TRON)")
	createCmd.Flags().StringVar(&mnemonic, "mnemonic", "", "导入的助记词")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出所有钱包",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				wallets, err := a.Service.ListWallets(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, wallets)
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <wallet_id>",
		Short: "查看钱包详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				w, err := a.Service.GetWallet(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, w)
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <wallet_id>",
		Short: "导出钱包助记词（明文输出到终端）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Service.ExportMnemonic(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), m)
				return nil
			})
		},
	}

	var toAddress, toWallet string
	transferCmd := &cobra.Command{
		Use:   "transfer <wallet_id>",
		Short: "转移钱包所有权",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				w, err := a.Service.TransferOwnership(ctx, args[0], wallet.OwnerRef{
					Address:  toAddress,
					WalletID: toWallet,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, w)
			})
		},
	}
	transferCmd.Flags().StringVar(&toAddress, "to-address", "", "新所有者地址")
	transferCmd.Flags().StringVar(&toWallet, "to-wallet", "", "新所有者的受管钱包ID")

	historyCmd := &cobra.Command{
		Use:   "history <wallet_id>",
		Short: "查看所有权转移记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				records, err := a.Service.OwnershipHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}

	var sponsorAddress string
	var disableSponsor bool
	sponsorCmd := &cobra.Command{
		Use:   "sponsor <wallet_id>",
		Short: "设置或取消手续费赞助地址",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				w, err := a.Service.SetSponsor(ctx, args[0], sponsorAddress, !disableSponsor)
				if err != nil {
					return err
				}
				return printJSON(cmd, w)
			})
		},
	}
	sponsorCmd.Flags().StringVar(&sponsorAddress, "address", "", "赞助地址")
	sponsorCmd.Flags().BoolVar(&disableSponsor, "disable", false, "取消赞助")

	var refresh bool
	tokensCmd := &cobra.Command{
		Use:   "tokens <wallet_id>",
		Short: "查看代币持仓",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				tokens, err := a.Service.GetTokens(ctx, args[0], refresh)
				if err != nil {
					return err
				}
				return printJSON(cmd, tokens)
			})
		},
	}
	tokensCmd.Flags().BoolVar(&refresh, "refresh", false, "重新查询链上余额")

	cmd.AddCommand(createCmd, listCmd, getCmd, exportCmd, transferCmd, historyCmd, sponsorCmd, tokensCmd)
	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <wallet_id>",
		Short: "查询原生资产余额",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				b, err := a.Service.GetBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, b)
			})
		},
	}
}

// transferFlags send 与 simulate 共用的转账参数
type transferFlags struct {
	walletID     string
	toAddress    string
	amount       string
	tokenSymbol  string
	tokenAddress string
	data         string
}

func (f *transferFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.walletID, "wallet", "", "钱包ID")
	cmd.Flags().StringVar(&f.toAddress, "to", "", "收款地址")
	cmd.Flags().StringVar(&f.amount, "amount", "", "金额（十进制）")
	cmd.Flags().StringVar(&f.tokenSymbol, "token-symbol", "", "代币符号")
	cmd.Flags().StringVar(&f.tokenAddress, "token-address", "", "代币合约地址")
	cmd.Flags().StringVar(&f.data, "data", "", "附加数据（十六进制）")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *transferFlags) spec() models.TransferSpec {
	spec := models.TransferSpec{
		ToAddress:   f.toAddress,
		Amount:      f.amount,
		TokenSymbol: f.tokenSymbol,
	}
	if f.tokenAddress != "" {
		spec.TokenAddress = &f.tokenAddress
	}
	if f.data != "" {
		spec.Data = &f.data
	}
	return spec
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "交易管理",
	}

	var send transferFlags
	var useSponsor bool
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "提交转账交易",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				tx, err := a.Service.SubmitTransaction(ctx, txengine.SubmitRequest{
					WalletID:     send.walletID,
					TransferSpec: send.spec(),
					UseSponsor:   useSponsor,
				})
				if tx != nil {
					if printErr := printJSON(cmd, tx); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
	send.bind(sendCmd)
	sendCmd.Flags().BoolVar(&useSponsor, "sponsor", false, "由赞助地址支付手续费")

	var sim transferFlags
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "模拟交易（估算手续费，不记录）",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				tx, err := a.Service.SimulateTransaction(ctx, txengine.SimulateRequest{
					WalletID:     sim.walletID,
					TransferSpec: sim.spec(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
	sim.bind(simulateCmd)

	listCmd := &cobra.Command{
		Use:   "list <wallet_id>",
		Short: "列出钱包的交易记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				txs, err := a.Service.ListTransactions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, txs)
			})
		},
	}

	var status, txHash string
	statusCmd := &cobra.Command{
		Use:   "status <tx_id>",
		Short: "更新 pending 交易的状态（confirmed | failed）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var hash *string
				if txHash != "" {
					hash = &txHash
				}
				tx, err := a.Service.UpdateTransactionStatus(ctx, args[0], models.TxStatus(status), hash)
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
	statusCmd.Flags().StringVar(&status, "status", "", "新状态")
	statusCmd.Flags().StringVar(&txHash, "tx-hash", "", "链上交易哈希")
	_ = statusCmd.MarkFlagRequired("status")

	cmd.AddCommand(sendCmd, simulateCmd, listCmd, statusCmd)
	return cmd
}

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "交易包管理",
	}

	var file string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "从 JSON 文件创建交易包",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("读取交易包文件失败: %w", err)
			}
			var req txengine.BundleRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("解析交易包文件失败: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Service.CreateBundle(ctx, req)
				if result != nil {
					if printErr := printJSON(cmd, result); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
	createCmd.Flags().StringVar(&file, "file", "", "交易包 JSON 文件")
	_ = createCmd.MarkFlagRequired("file")

	getCmd := &cobra.Command{
		Use:   "get <bundle_id>",
		Short: "查看交易包及其成员交易",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Service.GetBundle(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	cmd.AddCommand(createCmd, getCmd)
	return cmd
}

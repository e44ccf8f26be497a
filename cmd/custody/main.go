package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"custody/internal/app"
	"custody/internal/config"
	"custody/internal/connection"
	"custody/internal/seed"
)

var (
	// 全局参数
	configFile string
	verbose    bool
	offline    bool

	// serve 参数
	port int

	// derive 参数
	deriveChain    string
	deriveMnemonic string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "custody",
		Short:        "多链托管钱包",
		Long:         `多链托管钱包：管理 ETH / SOL / TRON 钱包的助记词、余额、交易与交易包`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "不连接链节点（余额与交易估算不可用）")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 服务",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "API 服务端口（覆盖配置文件）")

	mnemonicCmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "生成新的 BIP-39 助记词",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := seed.GenerateMnemonic()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mnemonic)
			return nil
		},
	}

	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "由助记词派生地址（不落库，不联网）",
		RunE:  runDerive,
	}
	deriveCmd.Flags().StringVar(&deriveChain, "chain", "ETH", "链类型 (ETH | SOL | TRON)")
	deriveCmd.Flags().StringVar(&deriveMnemonic, "mnemonic", "", "助记词（为空时读取 CUSTODY_MNEMONIC）")

	rootCmd.AddCommand(serveCmd, mnemonicCmd, deriveCmd, walletCmd(), balanceCmd(), txCmd(), bundleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// openApp 按全局参数组装运行时
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{
		ConfigPath: configFile,
		Verbose:    verbose,
		Offline:    offline,
	})
}

// withApp 打开运行时执行 fn，结束后释放
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.WithError(err).Warn("释放资源失败")
		}
	}()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	if port > 0 {
		a.Config.API.Port = port
	}
	return a.Serve()
}

func runDerive(cmd *cobra.Command, args []string) error {
	mnemonic := deriveMnemonic
	if mnemonic == "" {
		mnemonic = os.Getenv("CUSTODY_MNEMONIC")
	}
	if strings.TrimSpace(mnemonic) == "" {
		return fmt.Errorf("需要通过 --mnemonic 或 CUSTODY_MNEMONIC 提供助记词")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	// 派生只需要链列表，配置文件不可用时使用默认配置
	cfg, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		logger.Warnf("读取配置失败，使用默认配置: %v", err)
		cfg = config.GetDefaultConfig()
	}

	chains, err := connection.OfflineRegistry(cfg.Chains, logger)
	if err != nil {
		return err
	}
	adapter, err := chains.Resolve(deriveChain)
	if err != nil {
		return err
	}
	seedBytes, err := seed.DeriveSeed(seed.Normalize(mnemonic))
	if err != nil {
		return err
	}
	key, err := adapter.DeriveAddress(seedBytes)
	if err != nil {
		return err
	}

	return printJSON(cmd, map[string]string{
		"chain_type": string(adapter.Type()),
		"address":    key.Address,
		"public_key": key.PublicKey,
		"path":       key.Path,
	})
}

// printJSON 以缩进 JSON 输出结果
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

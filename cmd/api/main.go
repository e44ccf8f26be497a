package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"custody/internal/app"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口（覆盖配置文件）")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	a, err := app.New(context.Background(), app.Options{
		ConfigPath: *configPath,
		Verbose:    *verbose,
	})
	if err != nil {
		logrus.Fatalf("初始化失败: %v", err)
	}
	if *port > 0 {
		a.Config.API.Port = *port
	}

	if err := a.Serve(); err != nil {
		a.Logger.Fatalf("服务器退出: %v", err)
	}
	a.Logger.Info("服务器已关闭")
}

// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch-ledger/internal/app"
	"dispatch-ledger/internal/app/worker"
	"dispatch-ledger/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/worker.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), time.Minute)
	bootstrap, err := app.NewBootstrap(ctx, cfg)
	cancelInit()
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	application, err := worker.NewApp(bootstrap)
	if err != nil {
		bootstrap.Close()
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := application.Start(); err != nil {
		log.Fatalf("启动应用失败: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 等待进行中的锚定完成（含确认等待）
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		log.Printf("关闭应用失败: %v", err)
	}
	log.Println("worker 已关闭")
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"galstage/internal/cli"
	"galstage/internal/config"
	"galstage/internal/crash"
	applog "galstage/internal/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	// a .env next to the binary is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		applog.WithComponent("main").Warn("ignoring .env", slog.Any("err", err))
	}
	stateDir, _ := config.ConfigDir()
	defer crash.Recover(stateDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.RootCmd.ExecuteContext(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	cli.Flush(flushCtx)
	cancel()
	if err != nil {
		return 1
	}
	return 0
}

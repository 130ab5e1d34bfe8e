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
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dispatch-ledger/internal/api/http/middleware"
	"dispatch-ledger/pkg/auth"
	"dispatch-ledger/pkg/canonical"
	"dispatch-ledger/pkg/config"
	"dispatch-ledger/pkg/proof"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("ledgerctl " + version)
	case "health":
		out, err := getJSON("/api/health")
		exitOn(err, "健康检查失败")
		fmt.Println(prettyJSON(out))
	case "config":
		path := "configs/api.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		os.Exit(printConfig(path, os.Stdout, os.Stderr))
	case "token":
		if len(args) < 2 {
			usageExit("ledgerctl token <user_id> <role> [email]")
		}
		email := ""
		if len(args) > 2 {
			email = args[2]
		}
		runToken(args[0], auth.Role(args[1]), email)
	case "dispatch":
		requireArg(args, "ledgerctl dispatch <dispatch_id>")
		out, err := getDispatch(args[0])
		exitOn(err, "查询派遣失败")
		fmt.Println(prettyJSON(out))
	case "verify":
		requireArg(args, "ledgerctl verify <dispatch_id>")
		out, err := verifyDispatch(args[0])
		exitOn(err, "核验失败")
		fmt.Println(prettyJSON(out))
	case "retry":
		requireArg(args, "ledgerctl retry <dispatch_id>")
		out, err := retryAnchor(args[0])
		exitOn(err, "锚定重试失败")
		fmt.Println(prettyJSON(out))
	case "record":
		requireArg(args, "ledgerctl record <dispatch_id>")
		out, err := getLedgerRecord(args[0])
		exitOn(err, "获取账本记录失败")
		fmt.Println(prettyJSON(out))
	case "export":
		requireArg(args, "ledgerctl export <dispatch_id> [out.zip]")
		runExport(args)
	case "verify-zip":
		requireArg(args, "ledgerctl verify-zip <evidence.zip> [ed25519_pubkey_hex]")
		pub := ""
		if len(args) > 1 {
			pub = args[1]
		}
		os.Exit(verifyEvidenceZip(args[0], pub, os.Stdout, os.Stderr))
	case "hash":
		requireArg(args, "ledgerctl hash <payload.json>")
		os.Exit(hashFile(args[0], os.Stdout, os.Stderr))
	case "ledger-status":
		out, err := getLedgerStatus()
		exitOn(err, "查询账本状态失败")
		fmt.Println(prettyJSON(out))
	case "step-up":
		if len(args) >= 2 {
			out, err := verifyStepUp(args[0], args[1])
			exitOn(err, "二次验证失败")
			fmt.Println(prettyJSON(out))
			return
		}
		out, err := startStepUp()
		exitOn(err, "申请验证码失败")
		fmt.Println(prettyJSON(out))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: ledgerctl <command> [args]")
	fmt.Println("  version                          - 显示版本")
	fmt.Println("  health                           - API 健康检查")
	fmt.Println("  config [path]                    - 输出生效配置（YAML，敏感字段已遮盖）")
	fmt.Println("  token <user_id> <role> [email]   - 用 api.middleware.jwt_key 签发会话令牌")
	fmt.Println("  step-up [challenge_id code]      - 申请验证码；带参数时提交验证码并返回提权令牌")
	fmt.Println("  dispatch <id>                    - 查询派遣")
	fmt.Println("  verify <id>                      - 核验派遣并锚定（需提权令牌）")
	fmt.Println("  retry <id>                       - 重试失败的锚定（需提权令牌）")
	fmt.Println("  record <id>                      - 输出账本记录")
	fmt.Println("  export <id> [out.zip]            - 下载证据包")
	fmt.Println("  verify-zip <file> [pubkey_hex]   - 离线校验证据包")
	fmt.Println("  hash <payload.json>              - 输出规范 JSON 与 Keccak-256 摘要")
	fmt.Println("  ledger-status                    - 账本网络与签名账户授权状态")
	fmt.Println("环境变量: DL_API_URL（默认 http://localhost:8080）, DL_TOKEN, DL_CONFIG")
}

func usageExit(usage string) {
	fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
	os.Exit(1)
}

func requireArg(args []string, usage string) {
	if len(args) < 1 {
		usageExit(usage)
	}
}

func exitOn(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("DL_CONFIG"); p != "" {
		return p
	}
	return "configs/api.yaml"
}

func runToken(userID string, role auth.Role, email string) {
	if !auth.ValidRole(role) {
		usageExit("ledgerctl token <user_id> <admin|lgu|volunteer|resident> [email]")
	}
	cfg, err := config.LoadConfig(configPath())
	exitOn(err, "加载配置失败")
	if cfg.API.Middleware.JWTKey == "" {
		exitOn(fmt.Errorf("api.middleware.jwt_key is empty"), "签发失败")
	}
	timeout := config.ParseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
	jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey), timeout, timeout)
	exitOn(err, "JWT 初始化失败")
	token, expire, err := jwtAuth.TokenGenerator(auth.Identity{UserID: userID, Role: role, Email: email})
	exitOn(err, "签发失败")
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expire.Format(time.RFC3339))
}

func runExport(args []string) {
	id := args[0]
	out := "evidence-" + id + ".zip"
	if len(args) > 1 {
		out = args[1]
	}
	data, err := downloadEvidence(id)
	exitOn(err, "下载证据包失败")
	exitOn(os.WriteFile(out, data, 0644), "写入文件失败")
	fmt.Printf("evidence written to %s (%d bytes)\n", out, len(data))
}

// printConfig 输出生效配置；jwt_key 与私钥字段遮盖
func printConfig(path string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return 1
	}
	if cfg.API.Middleware.JWTKey != "" {
		cfg.API.Middleware.JWTKey = "****"
	}
	for name, n := range cfg.Ledger.Networks {
		if n.PrivateKey != "" {
			n.PrivateKey = "****"
			cfg.Ledger.Networks[name] = n
		}
	}
	if cfg.Secrets.Vault.Token != "" {
		cfg.Secrets.Vault.Token = "****"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "****"
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		fmt.Fprintf(stderr, "编码配置失败: %v\n", err)
		return 1
	}
	_ = enc.Close()
	return 0
}

// hashFile 规范化 JSON 文件并输出 Keccak-256
func hashFile(path string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "读取文件失败: %v\n", err)
		return 1
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		fmt.Fprintf(stderr, "解析 JSON 失败: %v\n", err)
		return 1
	}
	b, err := canonical.Bytes(v)
	if err != nil {
		fmt.Fprintf(stderr, "规范化失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	fmt.Fprintln(stdout, proof.Keccak256(b).Hex())
	return 0
}

// verifyEvidenceZip 离线校验证据包，返回进程退出码
func verifyEvidenceZip(path, pubKeyHex string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "读取证据包失败: %v\n", err)
		return 1
	}
	var pub ed25519.PublicKey
	if pubKeyHex != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			fmt.Fprintf(stderr, "公钥格式错误: 需要 %d 字节十六进制\n", ed25519.PublicKeySize)
			return 1
		}
		pub = ed25519.PublicKey(raw)
	}

	result := proof.VerifyEvidenceZip(data, pub)
	fmt.Fprintf(stdout, "Dispatch:     %s\n", result.DispatchID)
	fmt.Fprintf(stdout, "Record hash:  %s\n", result.RecordHash)
	fmt.Fprintf(stdout, "Events:       %d\n", len(result.Events))
	fmt.Fprintf(stdout, "Manifest:     %s\n", passFail(result.ManifestValid))
	fmt.Fprintf(stdout, "Record:       %s\n", passFail(result.RecordValid))
	fmt.Fprintf(stdout, "Hash chain:   %s\n", passFail(result.HashChainValid))
	if pub != nil {
		fmt.Fprintf(stdout, "Signature:    %s\n", passFail(result.SignatureValid))
	}
	if result.Anchor != nil {
		fmt.Fprintf(stdout, "Anchor tx:    %s (%s)\n", result.Anchor.TxHash, result.Anchor.Network)
	}
	if !result.OK {
		fmt.Fprintln(stdout, "Verification FAILED")
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Verification PASSED")
	return 0
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

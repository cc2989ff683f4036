package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

// issue-token mints a development JWT. Flags win; missing values are prompted
// for when stdin is a terminal.
func main() {
	var (
		kind  string
		id    int
		perms string
	)
	flag.StringVar(&kind, "type", "", "Token type: student or admin")
	flag.IntVar(&id, "id", 0, "Student or admin ID")
	flag.StringVar(&perms, "perms", "", "Comma-separated admin permissions (default: all)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		if !interactive {
			return ""
		}
		fmt.Fprint(os.Stderr, label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	if kind == "" {
		kind = prompt("Token type (student/admin, default student): ")
		if kind == "" {
			kind = "student"
		}
	}
	if id == 0 {
		v, err := strconv.Atoi(prompt("ID: "))
		if err != nil || v <= 0 {
			log.Fatal().Msg("A positive -id is required")
		}
		id = v
	}

	authService := service.NewAuthService(cfg)

	var (
		token string
		err   error
	)
	switch kind {
	case "student":
		token, err = authService.IssueStudentToken(id)
	case "admin":
		token, err = authService.IssueAdminToken(id, parsePermissions(perms))
	default:
		log.Fatal().Str("type", kind).Msg("Unknown token type")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().Str("type", kind).Int("id", id).Dur("expires_in", cfg.JWTExpiry).Msg("Token issued")
	fmt.Println(token)
}

func parsePermissions(raw string) []string {
	if raw == "" {
		all := model.AllPermissions()
		out := make([]string, len(all))
		for i, p := range all {
			out[i] = string(p)
		}
		return out
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

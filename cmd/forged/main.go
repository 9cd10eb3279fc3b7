// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// forged is the dreamforge service daemon: it serves the image-to-3D
// pipeline API and drives generation against the configured providers.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/jackg825/dream-forge-web-sub001/api"
	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/log"
	"github.com/jackg825/dream-forge-web-sub001/node"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the document and blob stores",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "API listen address",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Prometheus metrics listen address (disabled when empty)",
	}
	jwtSecretFlag = &cli.StringFlag{
		Name:    "jwtsecret",
		Usage:   "Shared HS256 secret for API bearer tokens",
		EnvVars: []string{"FORGED_JWT_SECRET"},
	}
	geminiKeyFlag = &cli.StringFlag{
		Name:    "gemini.key",
		Usage:   "Vision API key",
		EnvVars: []string{"FORGED_GEMINI_KEY"},
	}
	geminiModelFlag = &cli.StringFlag{
		Name:  "gemini.model",
		Usage: "Default vision model",
	}
	meshyKeyFlag = &cli.StringFlag{
		Name:    "provider.meshy.key",
		Usage:   "Meshy API key",
		EnvVars: []string{"FORGED_MESHY_KEY"},
	}
	tripoKeyFlag = &cli.StringFlag{
		Name:    "provider.tripo.key",
		Usage:   "Tripo API key",
		EnvVars: []string{"FORGED_TRIPO_KEY"},
	}
	hunyuanKeyFlag = &cli.StringFlag{
		Name:    "provider.hunyuan.key",
		Usage:   "Hunyuan API key",
		EnvVars: []string{"FORGED_HUNYUAN_KEY"},
	}
	rodinKeyFlag = &cli.StringFlag{
		Name:    "provider.rodin.key",
		Usage:   "Rodin API key",
		EnvVars: []string{"FORGED_RODIN_KEY"},
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: int(log.LvlInfo),
	}
)

var app = &cli.App{
	Name:  "forged",
	Usage: "dreamforge image-to-3D pipeline daemon",
	Flags: []cli.Flag{
		configFlag, dataDirFlag, httpAddrFlag, metricsAddrFlag, jwtSecretFlag,
		geminiKeyFlag, geminiModelFlag,
		meshyKeyFlag, tripoKeyFlag, hunyuanKeyFlag, rodinKeyFlag,
		verbosityFlag,
	},
	Before: setupLogging,
	Action: runNode,
	Commands: []*cli.Command{
		{
			Name:      "grant",
			Usage:     "Credit a user account (purchase or bonus)",
			ArgsUsage: "<userID> <amount> [purchase|bonus]",
			Flags:     []cli.Flag{configFlag, dataDirFlag, jwtSecretFlag},
			Action:    runGrant,
		},
		{
			Name:      "token",
			Usage:     "Mint a bearer token for a user (development helper)",
			ArgsUsage: "<userID>",
			Flags:     []cli.Flag{configFlag, jwtSecretFlag},
			Action:    runToken,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	handler := log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), log.StreamHandler(os.Stderr, true))
	log.Root().SetHandler(handler)
	return nil
}

func runNode(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	log.Info("Shutting down", "signal", sig)
	return n.Stop()
}

func runGrant(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: forged grant <userID> <amount> [purchase|bonus]")
	}
	userID := ctx.Args().Get(0)
	var amount int
	if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &amount); err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer")
	}
	kind := types.TxBonus
	if ctx.NArg() > 2 {
		switch ctx.Args().Get(2) {
		case "purchase":
			kind = types.TxPurchase
		case "bonus":
			kind = types.TxBonus
		default:
			return fmt.Errorf("grant type must be purchase or bonus")
		}
	}

	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Stop()

	if err := n.Ledger().Grant(userID, amount, kind); err != nil {
		return err
	}
	balance, err := n.Ledger().Balance(userID)
	if err != nil {
		return err
	}
	fmt.Printf("granted %d credits to %s (%s), balance now %d\n", amount, userID, kind, balance)
	return nil
}

func runToken(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: forged token <userID>")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("jwtsecret must be at least 32 bytes")
	}
	token, err := api.IssueToken([]byte(cfg.JWTSecret), ctx.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

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

package main

import (
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/jackg825/dream-forge-web-sub001/node"
	"github.com/jackg825/dream-forge-web-sub001/provider"
)

// These settings ensure that TOML keys use the same names as Go struct
// fields, and that fields in the config file the binary does not know about
// produce a pointed error rather than being silently dropped.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s.%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type config struct {
	Node node.Config
}

func loadConfig(file string, cfg *config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	if err != nil {
		return fmt.Errorf("%s: %v", file, err)
	}
	return nil
}

// makeConfig layers defaults, the optional TOML file and the command line
// flags, in that order.
func makeConfig(ctx *cli.Context) (node.Config, error) {
	cfg := config{Node: node.DefaultConfig}
	if file := ctx.String(configFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return node.Config{}, err
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Node.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.Node.HTTPAddr = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Node.MetricsAddr = ctx.String(metricsAddrFlag.Name)
	}
	if ctx.IsSet(jwtSecretFlag.Name) {
		cfg.Node.JWTSecret = ctx.String(jwtSecretFlag.Name)
	}
	if ctx.IsSet(geminiKeyFlag.Name) {
		cfg.Node.Gemini.APIKey = ctx.String(geminiKeyFlag.Name)
	}
	if ctx.IsSet(geminiModelFlag.Name) {
		cfg.Node.Gemini.Model = ctx.String(geminiModelFlag.Name)
	}
	if cfg.Node.ProviderKeys == nil {
		cfg.Node.ProviderKeys = make(map[string]string)
	}
	for flag, id := range map[*cli.StringFlag]string{
		meshyKeyFlag:   provider.Meshy,
		tripoKeyFlag:   provider.Tripo,
		hunyuanKeyFlag: provider.Hunyuan,
		rodinKeyFlag:   provider.Rodin,
	} {
		if ctx.IsSet(flag.Name) {
			cfg.Node.ProviderKeys[id] = ctx.String(flag.Name)
		}
	}
	return cfg.Node, nil
}

package main

import (
	"flag"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/matheus3301/wadesk/internal/config"
	"github.com/matheus3301/wadesk/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (default: <data dir>/wadeskd.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		dataDir := os.Getenv("WADESK_DATA_DIR")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err == nil {
				dataDir = filepath.Join(home, ".wadesk")
			}
		}
		configPath = config.Path(dataDir)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: configPath,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}

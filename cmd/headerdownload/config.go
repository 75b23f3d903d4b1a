// Command headerdownload is a thin CLI entrypoint: it loads a TOML config,
// wires a transport and a database writer, and runs the header downloader to
// completion. It is outer-layer glue, not part of the downloader's core —
// see SPEC_FULL.md §1.
package main

import (
	"bufio"
	"errors"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/glyphchain/hdsync/headerdownload"
)

// tomlSettings mirrors the teacher's convention: TOML keys are taken
// verbatim from Go struct field names, no case-folding.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// fileConfig is the on-disk shape of the CLI's config file.
type fileConfig struct {
	NetworkID     uint64
	MemLimit      uint64
	StartBlockNum uint64
	FinalBlockNum uint64
	DataDir       string
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		NetworkID:     1,
		MemLimit:      64 << 20, // 64 MiB
		StartBlockNum: 0,
		FinalBlockNum: 576,
		DataDir:       "./headerdownload-data",
	}
}

func loadConfig(path string, cfg *fileConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

func (c fileConfig) toDownloaderConfig() headerdownload.Config {
	return headerdownload.Config{
		ChainConfig: headerdownload.ChainConfig{
			NetworkID: c.NetworkID,
		},
		MemLimit:      c.MemLimit,
		StartBlockNum: headerdownload.BlockNumber(c.StartBlockNum),
		FinalBlockNum: headerdownload.BlockNumber(c.FinalBlockNum),
	}
}

package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wifi-voucher/pkg/config"
	"wifi-voucher/pkg/db"
	"wifi-voucher/pkg/logger"
	"wifi-voucher/services/voucher"
)

var (
	class = flag.Int64("class", 0, "voucher class to load the keys into")
	file  = flag.String("file", "", "path to a file with one voucher key per line")
)

func main() {
	flag.Parse()

	if *class == 0 || *file == "" {
		log.Fatal("usage: seed-vouchers -class <1..5> -file <keys.txt>")
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		voucher.Module,
		fx.Invoke(run),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

func run(shutdowner fx.Shutdowner, gdb *gorm.DB, svc *voucher.Service) error {
	defer func() { _ = shutdowner.Shutdown() }()

	if err := gdb.AutoMigrate(&voucher.Voucher{}); err != nil {
		return err
	}

	keys, err := readKeys(*file)
	if err != nil {
		return err
	}

	added, err := svc.Add(context.Background(), *class, keys)
	if err != nil {
		return err
	}

	zap.L().Info("voucher stock loaded",
		zap.Int64("class", *class),
		zap.Int("added", added),
	)
	return nil
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	return keys, scanner.Err()
}

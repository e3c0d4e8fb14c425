package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/annel0/tilesync/internal/auth"
	"github.com/annel0/tilesync/internal/config"
	"github.com/annel0/tilesync/internal/devserver"
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/network"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (or TILESYNC_CONFIG)")
		transport  = flag.String("transport", network.TransportTCP, "Transport: tcp or kcp")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	opts := logging.DefaultOptions()
	opts.Dir = cfg.Logging.Dir
	opts.ConsoleLevel, _ = logging.ParseLevel(cfg.Logging.ConsoleLevel, opts.ConsoleLevel)
	opts.FileLevel, _ = logging.ParseLevel(cfg.Logging.FileLevel, opts.FileLevel)
	logging.Configure(opts)

	if err := logging.InitDefaultLogger("devserver"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	dc := cfg.DevServer
	logging.Info("🎮 Запуск сервера разработки: мир %dx%d блоков, seed=%d", dc.Width, dc.Height, dc.Seed)

	// === АККАУНТЫ ===
	var accounts auth.AccountRepository
	if len(dc.Accounts) > 0 {
		repo := auth.NewMemoryAccountRepo(0)
		if err := auth.LoadAccounts(repo, dc.Accounts); err != nil {
			log.Fatalf("❌ Ошибка загрузки аккаунтов: %v", err)
		}
		accounts = repo
		logging.Info("🔐 Загружено аккаунтов: %d", repo.Len())
	} else {
		logging.Info("🔓 Аккаунты не заданы: вход открыт для всех с доступом normal")
	}

	srv, err := devserver.New(devserver.Config{
		Width:    dc.Width,
		Height:   dc.Height,
		Seed:     dc.Seed,
		Accounts: accounts,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания сервера: %v", err)
	}
	if err := srv.Start(*transport, dc.Listen); err != nil {
		log.Fatalf("❌ Ошибка запуска сервера: %v", err)
	}
	logging.Info("✅ Сервер слушает %s (%s)", srv.Addr(), *transport)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	if err := srv.Stop(); err != nil {
		logging.Error("❌ Ошибка остановки сервера: %v", err)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

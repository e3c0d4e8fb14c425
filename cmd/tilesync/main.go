package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/tilesync/internal/api"
	"github.com/annel0/tilesync/internal/client"
	"github.com/annel0/tilesync/internal/config"
	"github.com/annel0/tilesync/internal/eventbus"
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/observability"
	"github.com/annel0/tilesync/internal/world"
)

// options флаги командной строки
type options struct {
	configPath     string
	startX, startY int
	radius         int
	interactive    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to YAML config (or TILESYNC_CONFIG)")
	flag.IntVar(&opts.startX, "x", -1, "Initial tile X (-1 keeps server position)")
	flag.IntVar(&opts.startY, "y", -1, "Initial tile Y")
	flag.IntVar(&opts.radius, "radius", 1, "Blocks to preload around the start position")
	flag.BoolVar(&opts.interactive, "i", false, "Read commands from stdin")
	flag.Parse()

	// отложенные вызовы runClient (Dispose, остановка сервисов) выполняются до выхода
	if err := runClient(opts); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// startPos проверяет стартовую позицию из флагов. ok == false: позиция не задана.
func startPos(x, y int) (px, py uint16, ok bool, err error) {
	if x < 0 && y < 0 {
		return 0, 0, false, nil
	}
	if x < 0 || y < 0 || x > math.MaxUint16 || y > math.MaxUint16 {
		return 0, 0, false, fmt.Errorf("start position (%d,%d) out of range 0..%d", x, y, math.MaxUint16)
	}
	return uint16(x), uint16(y), true, nil
}

func runClient(opts options) error {
	px, py, hasPos, err := startPos(opts.startX, opts.startY)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	configureLogging(cfg.Logging)
	if err := logging.InitDefaultLogger("tilesync"); err != nil {
		return fmt.Errorf("ошибка инициализации логирования: %w", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry, sessionID)
	if err != nil {
		logging.Warn("⚠️ Телеметрия недоступна: %v", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	// === ШИНА УВЕДОМЛЕНИЙ ===
	bus := eventbus.New()
	eventbus.StartLoggingListener(bus)
	eventbus.Subscribe(bus, func(ev world.ChatReceived) {
		logging.Info("💬 %s: %s", ev.Sender, ev.Text)
	})
	eventbus.Subscribe(bus, func(ev world.ClientConnected) {
		logging.Info("👋 %s подключился", ev.Name)
	})
	eventbus.Subscribe(bus, func(ev world.ClientDisconnected) {
		logging.Info("🚪 %s отключился", ev.Name)
	})
	eventbus.Subscribe(bus, func(ev world.AccessChanged) {
		logging.Info("🔑 Уровень доступа: %s -> %s", ev.Old, ev.New)
	})

	if cfg.Relay.URL != "" {
		relay, err := eventbus.NewNATSRelay(eventbus.RelayOptions{
			URL:       cfg.Relay.URL,
			Prefix:    cfg.Relay.SubjectPrefix,
			Stream:    cfg.Relay.Stream,
			Retention: 24 * time.Hour,
			SessionID: sessionID,
		})
		if err != nil {
			logging.Warn("⚠️ NATS ретрансляция выключена: %v", err)
		} else {
			relay.Attach(bus)
			defer relay.Close()
			logging.Info("📡 Уведомления ретранслируются в %s (%s.*)", cfg.Relay.URL, cfg.Relay.SubjectPrefix)
		}
	}

	// === ПОДКЛЮЧЕНИЕ ===
	logging.Info("🔌 Подключение к %s (%s) как %q...", cfg.Client.Address, cfg.Client.Transport, cfg.Client.Username)
	c, err := client.Connect(ctx, cfg.Client, client.WithBus(bus), client.WithSessionID(sessionID))
	if err != nil {
		logging.Error("❌ Ошибка подключения: %v", err)
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	defer c.Dispose()

	w, h := c.WorldSize()
	logging.Info("✅ Вход выполнен: мир %dx%d блоков, доступ %s", w, h, c.AccessLevel())

	if hasPos {
		if err := c.SetPos(px, py); err != nil {
			logging.Warn("⚠️ SetPos: %v", err)
		}
	}
	x, y := c.Pos()
	if err := preload(ctx, c, x, y, opts.radius); err != nil {
		logging.Warn("⚠️ Предзагрузка блоков: %v", err)
	}

	// === СТАТУС ===
	if cfg.Status.Addr != "" {
		status, err := api.NewStatusServer(api.Config{Addr: cfg.Status.Addr, Source: c})
		if err != nil {
			logging.Error("❌ Ошибка создания статус-сервера: %v", err)
			return fmt.Errorf("ошибка создания статус-сервера: %w", err)
		}
		if err := status.Start(); err != nil {
			logging.Error("❌ Ошибка запуска статус-сервера: %v", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				status.Stop(sctx)
			}()
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var commands <-chan string
	if opts.interactive {
		commands = readCommands(loopCtx, os.Stdin)
		logging.Info("⌨️  Команды: goto X Y | load BX BY | tile X Y | say TEXT | radar | status | quit")
	}

	pollLoop(loopCtx, c, cfg.Client.PollInterval, commands)
	logging.Info("👋 Клиент остановлен")
	return nil
}

func configureLogging(lc config.LoggingConfig) {
	opts := logging.DefaultOptions()
	opts.Dir = lc.Dir
	opts.ConsoleLevel, _ = logging.ParseLevel(lc.ConsoleLevel, opts.ConsoleLevel)
	opts.FileLevel, _ = logging.ParseLevel(lc.FileLevel, opts.FileLevel)
	logging.Configure(opts)
}

// pollLoop крутит цикл опроса до сигнала, команды quit или обрыва сессии
func pollLoop(ctx context.Context, c *client.Client, interval time.Duration, commands <-chan string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("📡 Получен сигнал, завершение работы...")
			return
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if quit := execute(ctx, c, line); quit {
				return
			}
		case <-ticker.C:
			if err := c.Poll(); err != nil {
				if errors.Is(err, client.ErrNotRunning) {
					err = c.Err()
				}
				logging.Error("❌ Сессия закрыта: %v", err)
				return
			}
		}
	}
}

// preload загружает квадрат блоков вокруг тайла (x, y)
func preload(ctx context.Context, c *client.Client, x, y uint16, radius int) error {
	if radius < 0 {
		return nil
	}
	w, h := c.WorldSize()
	bx, by := int(x/world.BlockSize), int(y/world.BlockSize)
	var coords []world.BlockCoords
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			cx, cy := bx+dx, by+dy
			if cx < 0 || cy < 0 || cx >= int(w) || cy >= int(h) {
				continue
			}
			coords = append(coords, world.BlockCoords{X: uint16(cx), Y: uint16(cy)})
		}
	}
	start := time.Now()
	if err := c.LoadBlocks(ctx, coords...); err != nil {
		return err
	}
	logging.Info("🧱 Загружено %d блоков за %s", len(coords), time.Since(start).Round(time.Millisecond))
	return nil
}

// readCommands читает строки команд в отдельной горутине. После отмены ctx
// горутина завершается, как только очередная строка прочитана.
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case ch <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// execute выполняет одну команду. Возвращает true для quit.
func execute(ctx context.Context, c *client.Client, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "goto":
		var x, y uint16
		if x, y, err = parsePair(args); err == nil {
			if err = c.SetPos(x, y); err == nil {
				err = preload(ctx, c, x, y, 1)
			}
		}
	case "load":
		var bx, by uint16
		if bx, by, err = parsePair(args); err == nil {
			err = c.LoadBlocks(ctx, world.BlockCoords{X: bx, Y: by})
		}
	case "tile":
		var x, y uint16
		if x, y, err = parsePair(args); err == nil {
			err = printTile(c, x, y)
		}
	case "say":
		err = c.SendChatMessage(rest)
	case "radar":
		err = c.RequestRadarMap()
	case "status":
		st := c.Status()
		fmt.Printf("%s %s @%d,%d cache %d/%d clients %v\n",
			st.Username, st.State, st.X, st.Y, st.Cache.Len, st.Cache.Capacity, st.Clients)
	default:
		err = fmt.Errorf("неизвестная команда %q", cmd)
	}
	if err != nil {
		logging.Warn("⚠️ %s: %v", cmd, err)
	}
	return false
}

func printTile(c *client.Client, x, y uint16) error {
	land, err := c.LandTile(x, y)
	if err != nil {
		return err
	}
	fmt.Println(land)
	statics, err := c.StaticTiles(x, y)
	if err != nil {
		return err
	}
	for s := range statics {
		fmt.Printf("  %s\n", s)
	}
	return nil
}

func parsePair(args []string) (uint16, uint16, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("ожидается два числа")
	}
	a, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(a), uint16(b), nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"explorer/internal/cli/commands"
	"explorer/internal/cli/ui"
	"explorer/internal/database"
	"explorer/internal/engine"
	"explorer/internal/logger"
	"explorer/internal/vision"

	"github.com/chzyer/readline"
)

type CLI struct {
	runs    *engine.Manager
	log     *logger.Zap
	in      *bufio.Reader
	out     io.Writer
	rl      *readline.Instance
	rlClose sync.Once

	runHandler     *commands.RunHandler
	showHandler    *commands.ShowHandler
	watchHandler   *commands.WatchHandler
	controlHandler *commands.ControlHandler
	visionHandler  *commands.VisionHandler
}

// New создаёт консоль. repo и validator могут быть nil.
func New(runs *engine.Manager, repo *database.RunRepository, validator *vision.Validator, log *logger.Zap) *CLI {
	cli := &CLI{
		runs: runs,
		log:  log,
		out:  os.Stdout,
	}

	// Инициализация readline
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "explorer> ",
		HistoryFile:     ".explorer-history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Warn("Не удалось инициализировать readline, будет использован fallback режим")
		cli.in = bufio.NewReader(os.Stdin)
	} else {
		cli.rl = rl
		cli.out = rl.Stdout()
	}

	cli.init(repo, validator)
	return cli
}

func (c *CLI) init(repo *database.RunRepository, validator *vision.Validator) {
	ask := newUserInputProvider(c.readLine, c.out)
	c.runHandler = commands.NewRunHandler(c.runs, c.log.Logger, c.out)
	c.showHandler = commands.NewShowHandler(c.runs, repo, c.log.Logger, c.out)
	c.watchHandler = commands.NewWatchHandler(c.runs, c.out)
	c.controlHandler = commands.NewControlHandler(c.runs, ask, c.log.Logger, c.out)
	c.visionHandler = commands.NewVisionHandler(validator, c.out)
}

func (c *CLI) readLine() (string, error) {
	if c.rl != nil {
		return c.rl.Readline()
	}
	// Fallback для работы без readline
	fmt.Fprint(c.out, ui.ColorCyan+"explorer> "+ui.ColorReset)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *CLI) closeReadline() {
	c.rlClose.Do(func() {
		if c.rl != nil {
			c.rl.Close()
		}
	})
}

// Run читает команды до exit, EOF или отмены ctx.
func (c *CLI) Run(ctx context.Context) error {
	ui.PrintWelcome(c.out)
	defer c.closeReadline()

	// Закрытие readline снимает блокировку чтения при остановке.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.closeReadline()
		case <-stop:
		}
	}()

	for {
		// Проверка отмены контекста
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "\n"+ui.ColorCyan+ui.IconWave+" Получен сигнал завершения..."+ui.ColorReset)
			return nil
		default:
		}

		line, err := c.readLine()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !c.handleCommand(ctx, line) {
			fmt.Fprintln(c.out, ui.ColorCyan+ui.IconWave+" До свидания!"+ui.ColorReset)
			return nil
		}
	}
}

// handleCommand выполняет одну команду. false означает выход.
func (c *CLI) handleCommand(ctx context.Context, line string) bool {
	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch name {
	case "exit", "quit":
		return false
	case "clear":
		ui.ClearScreen(c.out)
	case "explore":
		c.runHandler.Explore(args)
	case "runs":
		c.runHandler.List()
	case "status":
		c.runHandler.Status(args)
	case "show":
		c.showHandler.Show(ctx, args)
	case "report":
		c.showHandler.Report(args)
	case "watch":
		c.watchHandler.Watch(ctx, args)
	case "pause":
		c.controlHandler.Pause(args)
	case "resume":
		c.controlHandler.Resume(args)
	case "take":
		c.controlHandler.Take(args)
	case "release":
		c.controlHandler.Release(args)
	case "op":
		c.controlHandler.Operate(ctx, args)
	case "otp":
		c.controlHandler.OTP(ctx, args)
	case "cancel":
		c.controlHandler.Cancel(ctx, args)
	case "vision":
		c.visionHandler.Check(ctx, args)
	default:
		ui.PrintHelp(c.out)
	}
	return true
}

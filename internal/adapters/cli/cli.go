// Package cli — консоль администратора в терминале процесса бота.
// Команды выполняются через тот же commands.Executor, что и админ-команды в чате.
// Сервис стартует фоном и интегрируется в lifecycle: Start/Stop идемпотентны.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"telegram-smsbot/internal/domain/commands"
	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/pr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// commandTimeout — лимит на выполнение одной команды.
const commandTimeout = 15 * time.Second

type commandDescriptor struct {
	name        string
	args        string
	description string
}

// commandDescriptors — реестр команд для help и автодополнения.
// Имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands"},
	{name: "status", description: "Show users, requests and servers"},
	{name: "users", description: "List known users"},
	{name: "user", args: "<id>", description: "Dump one user"},
	{name: "authorize", args: "<id>", description: "Allow a user to use the bot"},
	{name: "ban", args: "<id>", description: "Ban a user"},
	{name: "unban", args: "<id>", description: "Lift a ban"},
	{name: "topup", args: "<id> <amount>", description: "Add funds to a user's balance"},
	{name: "cookie", args: "<server> <cookies>", description: "Save session cookies for a server"},
	{name: "version", description: "Print bot version"},
	{name: "exit", description: "Stop the bot"},
}

// Service — консоль поверх commands.Executor.
type Service struct {
	exec      commands.Executor
	stopApp   context.CancelFunc
	loc       *time.Location
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консоль. stopApp останавливает всё приложение (exit, Ctrl-C на пустой строке).
func NewService(exec commands.Executor, stopApp context.CancelFunc, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{exec: exec, stopApp: stopApp, loc: loc}
}

// CommandNames — имена команд для автодополнения readline.
func CommandNames() []string {
	names := make([]string, 0, len(commandDescriptors))
	for _, d := range commandDescriptors {
		names = append(names, d.name)
	}
	return names
}

// Start запускает цикл чтения команд. Требует предварительного pr.Init.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop прерывает readline и дожидается выхода из цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		pr.InterruptReadline()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) run(ctx context.Context) {
	rl := pr.Rl()
	if rl == nil {
		logger.Warn("CLI: readline is not initialized")
		return
	}
	logger.Debug("CLI run started")
	pr.SetPrompt("smsbot> ")
	pr.Println("Admin console. Commands:", strings.Join(CommandNames(), ", "))
	pr.Println("Press '?' or type 'help' for details.")
	installKeyHandlers(s.stopApp)

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		line, err := rl.Readline()
		if err != nil {
			logger.Debug("CLI: deactivated", zap.Error(err))
			return
		}
		if s.handleCommand(ctx, line) {
			return
		}
	}
}

// installKeyHandlers: '?' печатает help, Ctrl-C на пустой строке останавливает приложение,
// на непустой — очищает строку.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand выполняет одну строку. Возвращает true, если консоль нужно закрыть.
func (s *Service) handleCommand(parent context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	var err error
	switch name {
	case "help":
		printCommandHelp()
	case "status":
		err = s.status(ctx)
	case "users":
		err = s.listUsers(ctx)
	case "user":
		err = withID(args, func(id int64) error {
			u, err := s.exec.User(ctx, id)
			if err == nil {
				pr.PP(u)
			}
			return err
		})
	case "authorize":
		err = withID(args, func(id int64) error { return s.printUser(s.exec.Authorize(ctx, id)) })
	case "ban":
		err = withID(args, func(id int64) error { return s.printUser(s.exec.Ban(ctx, id)) })
	case "unban":
		err = withID(args, func(id int64) error { return s.printUser(s.exec.Unban(ctx, id)) })
	case "topup":
		err = s.topUp(ctx, args)
	case "cookie":
		err = s.cookie(ctx, line)
	case "version":
		v, verr := s.exec.Version(ctx)
		if verr == nil {
			pr.Printf("%s %s\n", v.Name, v.Version)
		}
		err = verr
	case "exit", "quit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.ErrPrintln("unknown command:", name)
	}
	if err != nil {
		pr.ErrPrintln("error:", err)
	}
	return false
}

var errUsage = errors.New("bad arguments, see help")

func withID(args []string, fn func(id int64) error) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return errUsage
	}
	return fn(id)
}

func (s *Service) printUser(u users.User, err error) error {
	if err != nil {
		return err
	}
	pr.Println(formatUser(u))
	return nil
}

func (s *Service) topUp(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return errUsage
	}
	return withID(args[:1], func(id int64) error { return s.printUser(s.exec.TopUp(ctx, id, amount)) })
}

// cookie: cookie <server> <cookies…>; строка cookies берётся как есть, с пробелами.
func (s *Service) cookie(ctx context.Context, line string) error {
	_, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	server, raw, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok || strings.TrimSpace(raw) == "" {
		return errUsage
	}
	res, err := s.exec.SaveCookies(ctx, server, raw)
	if err != nil {
		return err
	}
	pr.Printf("saved %d cookies for %s (skipped %d expired)\n", res.Saved, res.Server, res.Expired)
	return nil
}

func (s *Service) listUsers(ctx context.Context) error {
	list, err := s.exec.Users(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		pr.Println("No users yet.")
		return nil
	}
	tw := tabwriter.NewWriter(pr.Stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tSTATE\tBALANCE\tCHECKS")
	for _, u := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", u.ID, u.DisplayName(), u.Role, userState(u), u.Balance.StringFixed(2), u.SMSChecks)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	pr.Printf("Total users: %d\n", len(list))
	return nil
}

func (s *Service) status(ctx context.Context) error {
	st, err := s.exec.Status(ctx)
	if err != nil {
		return err
	}
	pr.Printf("Started: %s (up %s)\n", st.StartedAt.In(s.loc).Format(time.RFC3339), st.Uptime.Truncate(time.Second))
	pr.Printf("Users: %d (authorized %d, banned %d, admins %d)\n", st.Users, st.Authorized, st.Banned, st.Admins)
	pr.Printf("Requests: pending=%d received=%d expired=%d cancelled=%d\n",
		st.Requests[requests.StatusPending], st.Requests[requests.StatusReceived],
		st.Requests[requests.StatusExpired], st.Requests[requests.StatusCancelled])
	pr.Printf("Number sessions: %d\n", st.NumberSessions)
	for _, srv := range st.Servers {
		expire := "<session>"
		if !srv.CookiesExpire.IsZero() {
			expire = srv.CookiesExpire.In(s.loc).Format(time.RFC3339)
		}
		mark := ""
		if srv.Default {
			mark = " (default)"
		}
		pr.Printf("Server %s%s: live cookies=%d, expire=%s\n", srv.Name, mark, srv.LiveCookies, expire)
	}
	return nil
}

func formatUser(u users.User) string {
	return fmt.Sprintf("%d %s role=%s state=%s balance=%s checks=%d",
		u.ID, u.DisplayName(), u.Role, userState(u), u.Balance.StringFixed(2), u.SMSChecks)
}

func userState(u users.User) string {
	switch {
	case u.Banned:
		return "banned"
	case u.Authorized || u.IsAdmin():
		return "authorized"
	default:
		return "pending"
	}
}

// buildCommandHelpLines генерирует строки помощи вида "<name> <args> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, d := range descriptors {
		usage := strings.TrimSpace(d.name + " " + d.args)
		lines = append(lines, fmt.Sprintf("  %-26s - %s", usage, d.description))
	}
	return lines
}

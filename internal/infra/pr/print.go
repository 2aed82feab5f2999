// Package pr — вывод консоли администратора.
//
// До Init пишет в os.Stdout/os.Stderr. После Init вывод идёт через буферы readline,
// чтобы строки логов не ломали строку ввода. Мьютекс защищает только замену writer'ов.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

// Options — настройки readline.
type Options struct {
	Prompt string
	// Commands — имена команд для автодополнения по Tab.
	Commands []string
	// HistoryLimit — размер истории ввода в памяти (0 — значение readline по умолчанию).
	HistoryLimit int
}

var (
	mu     sync.Mutex
	rl     *readline.Instance
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	// cancelableIn закрывается при остановке, чтобы Readline вернул io.EOF.
	cancelableIn interface{ Close() error }
)

// Init запускает readline на отменяемом stdin и переключает вывод на его буферы.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()
	if rl != nil {
		return nil
	}

	cs := readline.NewCancelableStdin(os.Stdin)
	cfg := &readline.Config{
		Stdin:           cs,
		Prompt:          opts.Prompt,
		HistoryLimit:    opts.HistoryLimit,
		InterruptPrompt: "^C",
	}
	if len(opts.Commands) > 0 {
		items := make([]readline.PrefixCompleterInterface, 0, len(opts.Commands))
		for _, c := range opts.Commands {
			items = append(items, readline.PcItem(c))
		}
		cfg.AutoComplete = readline.NewPrefixCompleter(items...)
	}

	inst, err := readline.NewEx(cfg)
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = inst
	cancelableIn = cs
	out = inst.Stdout()
	errOut = inst.Stderr()
	return nil
}

// Close прерывает ожидание ввода и возвращает вывод на os.Stdout/os.Stderr. Повторный вызов безопасен.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if cancelableIn != nil {
		_ = cancelableIn.Close()
		cancelableIn = nil
	}
	if rl != nil {
		_ = rl.Close()
		rl = nil
	}
	out, errOut = os.Stdout, os.Stderr
}

// InterruptReadline закрывает stdin: ожидающий Readline получает io.EOF.
func InterruptReadline() {
	mu.Lock()
	defer mu.Unlock()
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// SetPrompt меняет приглашение; до Init ничего не делает.
func SetPrompt(prompt string) {
	if inst := Rl(); inst != nil {
		inst.SetPrompt(prompt)
	}
}

// Rl возвращает инстанс readline или nil до Init.
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

// SetWriters подменяет вывод (тесты, перенаправление в файл).
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
}

func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP печатает значение в развёрнутом виде (kr/pretty).
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf возвращает развёрнутое представление значения.
func Pf(v any) string {
	return fmt.Sprintf("%# v", pretty.Formatter(v))
}

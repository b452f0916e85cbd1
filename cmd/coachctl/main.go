package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/okian/coachboard/internal/client"
	"github.com/okian/coachboard/pkg/logger"
)

const (
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 30 * time.Second
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			os.Stderr.WriteString("coachctl: " + err.Error() + "\n")
		}
		os.Exit(1)
	}
}

type env struct {
	api       *client.Client
	cachePath string
	selPath   string
	out       io.Writer
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "coachboard")
	}
	return ".coachboard"
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("coachctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	var (
		baseURL  = global.String("url", defaultURL, "Base URL of the coachboard API")
		stateDir = global.String("state", defaultStateDir(), "Directory for the local evaluation cache and selection")
		timeout  = global.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logLevel = global.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	global.Usage = func() { usage(stderr) }
	if err := global.Parse(args); err != nil {
		return errUsage
	}

	if err := logger.Init(logger.WithWriter(stderr)); err != nil {
		return err
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(stderr)
		return errUsage
	}

	e := &env{
		api:       client.New(*baseURL, client.WithTimeout(*timeout)),
		cachePath: filepath.Join(*stateDir, "evaluations.json"),
		selPath:   filepath.Join(*stateDir, "selection.json"),
		out:       stdout,
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "athletes":
		return e.athletes(ctx, cmdArgs, stderr)
	case "add-athlete":
		return e.saveAthlete(ctx, cmdArgs, stderr, false)
	case "update-athlete":
		return e.saveAthlete(ctx, cmdArgs, stderr, true)
	case "delete-athlete":
		return e.deleteAthlete(ctx, cmdArgs, stderr)
	case "evaluations":
		return e.evaluations(ctx, cmdArgs, stderr)
	case "evaluate":
		return e.evaluate(ctx, cmdArgs, stderr)
	case "delete-evaluations":
		return e.deleteEvaluations(ctx, cmdArgs, stderr)
	case "flush":
		return e.flush(ctx)
	case "dashboard":
		return e.dashboard(ctx, cmdArgs, stderr)
	case "view":
		return e.view(ctx, cmdArgs, stderr)
	case "select":
		return e.selectAthlete(cmdArgs, stderr)
	case "help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) cache() (*client.EvaluationCache, error) {
	return client.OpenEvaluationCache(e.cachePath, e.api)
}

func newFlags(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (e *env) athletes(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("athletes", stderr)
	coach := fs.String("coach", "", "Only athletes of this coach")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	list, err := e.api.ListAthletes(ctx, *coach)
	if err != nil {
		return err
	}
	return e.print(list)
}

func (e *env) saveAthlete(ctx context.Context, args []string, stderr io.Writer, update bool) error {
	fs := newFlags("athlete", stderr)
	var (
		id         = fs.String("id", "", "Athlete id (update only)")
		name       = fs.String("name", "", "Athlete name")
		discipline = fs.String("discipline", "", "Discipline")
		coach      = fs.String("coach", "", "Coach name")
		gender     = fs.String("gender", "", "Gender")
		rank       = fs.String("rank", "", "Rank")
		email      = fs.String("email", "", "Email")
		age        = fs.String("age", "", "Age in years")
		previous   = fs.String("previous", "", "Name the athlete was previously known by (update only)")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	p := client.AthletePayload{
		AthleteName: *name,
		Discipline:  *discipline,
		CoachName:   *coach,
		Gender:      *gender,
		Rank:        *rank,
		Email:       *email,
	}
	if s := strings.TrimSpace(*age); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid -age %q: %w", s, err)
		}
		p.Age = &v
	}

	if !update {
		a, err := e.api.CreateAthlete(ctx, p)
		if err != nil {
			return err
		}
		return e.print(a)
	}
	p.ID = *id
	p.PreviousAthleteName = *previous
	a, err := e.api.UpdateAthlete(ctx, p)
	if err != nil {
		return err
	}
	return e.print(a)
}

func (e *env) deleteAthlete(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("delete-athlete", stderr)
	id := fs.String("id", "", "Athlete id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := e.api.DeleteAthlete(ctx, *id); err != nil {
		return err
	}
	return e.print(map[string]bool{"ok": true})
}

func (e *env) evaluations(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("evaluations", stderr)
	offline := fs.Bool("offline", false, "Show the local cache without contacting the server")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	cache, err := e.cache()
	if err != nil {
		return err
	}
	if !*offline {
		if err := cache.Refresh(ctx); err != nil {
			logger.Get().Warn(ctx, "showing cached evaluations", logger.Error(err))
		}
	}
	return e.print(cache.Entries())
}

func (e *env) evaluate(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("evaluate", stderr)
	var (
		athlete    = fs.String("athlete", "", "Athlete name (defaults to the selected athlete)")
		discipline = fs.String("discipline", "", "Discipline")
		coach      = fs.String("coach", "", "Coach name")
		score      = fs.String("score", "", "Score 0-100")
		badge      = fs.String("badge", "", "Badge label overriding the derived one")
		tone       = fs.String("tone", "", "Badge tone overriding the derived one")
		comment    = fs.String("comment", "", "Comment")
		date       = fs.String("date", "", "Date (YYYY-MM-DD or D.M.YYYY), defaults to now")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	name := *athlete
	if strings.TrimSpace(name) == "" {
		sel, err := client.LoadSelection(e.selPath)
		if err != nil {
			return err
		}
		name = sel.Athlete
	}

	p := client.EvaluationPayload{
		AthleteName: name,
		Discipline:  *discipline,
		CoachName:   *coach,
		Badge:       *badge,
		BadgeTone:   *tone,
		Comment:     *comment,
		Date:        *date,
	}
	if s := strings.TrimSpace(*score); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid -score %q: %w", s, err)
		}
		p.Score = &v
	}

	cache, err := e.cache()
	if err != nil {
		return err
	}
	entry, err := cache.Add(ctx, p)
	if err != nil {
		return err
	}
	return e.print(entry)
}

func (e *env) deleteEvaluations(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("delete-evaluations", stderr)
	var (
		all     = fs.Bool("all", false, "Delete every evaluation")
		id      = fs.String("id", "", "Evaluation id")
		athlete = fs.String("athlete", "", "Delete every evaluation of this athlete")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	cache, err := e.cache()
	if err != nil {
		return err
	}
	switch {
	case *all:
		err = cache.RemoveAll(ctx)
	case strings.TrimSpace(*id) != "":
		err = cache.Remove(ctx, *id)
	case strings.TrimSpace(*athlete) != "":
		err = cache.RemoveByAthlete(ctx, *athlete)
	default:
		return fmt.Errorf("%w: one of -all, -id or -athlete is required", errUsage)
	}
	if err != nil {
		return err
	}
	return e.print(map[string]bool{"ok": true})
}

func (e *env) flush(ctx context.Context) error {
	cache, err := e.cache()
	if err != nil {
		return err
	}
	n, err := cache.Flush(ctx)
	if perr := e.print(map[string]int{"sent": n, "pending": cache.Pending()}); perr != nil {
		return perr
	}
	return err
}

func (e *env) dashboard(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("dashboard", stderr)
	coach := fs.String("coach", "", "Coach name (defaults to the server default)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	d, err := e.api.Dashboard(ctx, *coach)
	if err != nil {
		return err
	}
	return e.print(d)
}

func (e *env) view(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlags("view", stderr)
	athlete := fs.String("athlete", "", "Athlete id or name (defaults to the selected athlete)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	name := *athlete
	if strings.TrimSpace(name) == "" {
		sel, err := client.LoadSelection(e.selPath)
		if err != nil {
			return err
		}
		name = sel.Athlete
	}
	v, err := e.api.AthleteView(ctx, name)
	if err != nil {
		return err
	}
	return e.print(v)
}

func (e *env) selectAthlete(args []string, stderr io.Writer) error {
	fs := newFlags("select", stderr)
	var (
		athlete = fs.String("athlete", "", "Athlete to select")
		email   = fs.String("email", "", "Email of the selected athlete")
		reset   = fs.Bool("reset", false, "Clear the selection")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	sel, err := client.LoadSelection(e.selPath)
	if err != nil {
		return err
	}
	switch {
	case *reset:
		sel = client.Selection{}
	default:
		if *athlete != "" {
			sel.Athlete = *athlete
		}
		if *email != "" {
			sel.Email = *email
		}
	}
	if err := sel.Save(e.selPath); err != nil {
		return err
	}
	return e.print(sel)
}

func usage(w io.Writer) {
	_, _ = io.WriteString(w, `coachctl - command line client for coachboard

Usage:
  coachctl [global options] <command> [options]

Global options:
  -url string        Base URL of the API (default "http://localhost:9080")
  -state string      Directory for the local cache and selection
  -timeout duration  HTTP request timeout (default 30s)
  -log-level string  debug, info, warn or error (default "warn")

Commands:
  athletes            [-coach NAME]
  add-athlete         -name -discipline -coach -gender -rank [-age] [-email]
  update-athlete      -id -name -discipline -coach -gender -rank [-age] [-email] [-previous]
  delete-athlete      -id
  evaluations         [-offline]
  evaluate            [-athlete] -discipline [-coach] [-score] [-badge] [-tone] [-comment] [-date]
  delete-evaluations  -all | -id ID | -athlete NAME
  flush               resend evaluations saved while the server was unreachable
  dashboard           [-coach NAME]
  view                [-athlete NAME]
  select              [-athlete NAME] [-email ADDRESS] | -reset
`)
}

// Command ujian is the participant's exam client: it logs in, starts or
// resumes an attempt and submits it when the participant finishes or the
// time runs out.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/database"
	"github.com/stemsi/ujian/internal/examclient"
	"github.com/stemsi/ujian/internal/examsession"
	"github.com/stemsi/ujian/internal/logger"
	"github.com/stemsi/ujian/internal/sessionstore"
	"golang.org/x/term"
)

const memoryStore = "memory"

func main() {
	cfg := config.Load()

	examID := flag.String("exam", "", "Exam ID")
	nisn := flag.String("nisn", "", "Participant NISN (prompted when empty)")
	flag.StringVar(&cfg.Client.APIBaseURL, "api", cfg.Client.APIBaseURL, "Exam API base URL")
	flag.StringVar(&cfg.Client.StorePath, "store", cfg.Client.StorePath, `Local session file, or "memory"`)
	flag.StringVar(&cfg.Client.AutosaveTransport, "autosave", cfg.Client.AutosaveTransport, `Autosave transport: "rest" or "ws"`)
	flag.Parse()

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if *examID == "" {
		fmt.Fprintln(os.Stderr, "usage: ujian -exam <exam-id> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *examID, *nisn); err != nil {
		log.Error().Err(err).Msg("ujian failed")
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, examID, nisn string) error {
	in := bufio.NewReader(os.Stdin)
	out := os.Stdout

	client := examclient.New(cfg.Client.APIBaseURL, cfg.Client.RequestTimeout, log)

	// ─── Login ─────────────────────────────────────────────────────────
	if nisn == "" {
		nisn = prompt(out, in, "NISN: ")
	}
	password, err := readSecret(out, "Kata sandi: ")
	if err != nil {
		return err
	}
	login, err := client.Login(ctx, nisn, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Selamat datang, %s\n", login.Participant.Name)

	// ─── Local Session Store ───────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Client.StorePath, nisn, log)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := client.Summary(ctx, examID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%d menit, %d soal)\n", summary.Title, summary.DurationMinutes, summary.QuestionCount)

	// ─── Session ───────────────────────────────────────────────────────
	sessCfg := examsession.Config{
		TickInterval:      cfg.Client.TickInterval,
		AutosaveQueueSize: cfg.Client.AutosaveQueueSize,
		AutosaveRetries:   cfg.Client.AutosaveRetries,
		AutosaveBackoff:   cfg.Client.AutosaveBackoff,
	}
	if cfg.Client.AutosaveTransport == "ws" {
		saver := examclient.NewWSSaver(client, cfg.Client.RequestTimeout, log)
		defer saver.Close()
		sessCfg.Saver = saver
	}

	ticks := make(chan time.Duration, 1)
	sessCfg.OnTick = func(remaining time.Duration) {
		select {
		case ticks <- remaining:
		default:
		}
	}

	sess := examsession.New(client, store, log, sessCfg)
	defer sess.Close()

	accessCode := ""
	if _, err := store.Get(ctx, examID); errors.Is(err, examsession.ErrRecordNotFound) {
		if accessCode, err = readSecret(out, "Kode akses: "); err != nil {
			return err
		}
	}

	window, err := sess.Start(ctx, examID, accessCode)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Waktu berakhir pukul %s\n", window.EndAt.Local().Format("15:04:05"))

	_, err = sess.LoadQuestions(ctx)
	if errors.Is(err, examsession.ErrSessionNotFound) {
		// The saved attempt is unknown to the server; start a fresh one.
		fmt.Fprintln(out, "Sesi tersimpan tidak ditemukan di server, silakan masukkan kode akses lagi.")
		if accessCode, err = readSecret(out, "Kode akses: "); err != nil {
			return err
		}
		if window, err = sess.Start(ctx, examID, accessCode); err != nil {
			return err
		}
		fmt.Fprintf(out, "Waktu berakhir pukul %s\n", window.EndAt.Local().Format("15:04:05"))
		_, err = sess.LoadQuestions(ctx)
	}
	if err != nil {
		if errors.Is(err, examsession.ErrSessionExpired) {
			fmt.Fprintln(out, "Waktu ujian telah habis, jawaban dikirim otomatis.")
			return finish(ctx, out, sess, true)
		}
		return err
	}

	if err := sess.StartTimer(ctx); err != nil {
		return err
	}

	return loop(ctx, in, out, sess, ticks)
}

// loop runs the answer/navigation prompt until the attempt ends, the
// participant quits or the process is interrupted.
func loop(ctx context.Context, in *bufio.Reader, out io.Writer, sess *examsession.Session, ticks <-chan time.Duration) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	renderHelp(out)
	show(out, sess)

	var (
		warn    countdown
		confirm bool
	)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nDihentikan. Jalankan ulang untuk melanjutkan ujian.")
			return nil

		case <-sess.Done():
			fmt.Fprintln(out, "\nWaktu habis, jawaban dikirim otomatis.")
			return finish(ctx, out, sess, true)

		case remaining := <-ticks:
			if mark, ok := warn.crossed(remaining); ok {
				fmt.Fprintf(out, "\n!! Sisa waktu kurang dari %s\n", formatRemaining(mark))
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd := parseCommand(line)
			if cmd.kind == cmdSubmit {
				if confirm {
					return finish(ctx, out, sess, false)
				}
				confirm = true
				fmt.Fprintf(out, "Terjawab %d dari %d soal. Ketik 'kirim' lagi untuk konfirmasi.\n", sess.Answered(), len(sess.Questions()))
				continue
			}
			confirm = false
			done, err := handle(out, sess, cmd)
			if done || err != nil {
				return err
			}
		}
	}
}

func handle(out io.Writer, sess *examsession.Session, cmd command) (bool, error) {
	switch cmd.kind {
	case cmdSelect:
		q, _, ok := sess.Current()
		if !ok || cmd.option >= len(q.Options) {
			fmt.Fprintln(out, "Pilihan tidak tersedia.")
			return false, nil
		}
		if err := sess.SelectAnswer(q.ID, q.Options[cmd.option].ID); err != nil {
			if errors.Is(err, examsession.ErrNotInProgress) {
				return false, nil
			}
			return false, err
		}
		sess.Next()
	case cmdNext:
		sess.Next()
	case cmdPrev:
		sess.Prev()
	case cmdGoto:
		sess.Goto(cmd.number - 1)
	case cmdList:
		_, pos, _ := sess.Current()
		renderList(out, sess.Questions(), pos)
		return false, nil
	case cmdHelp:
		renderHelp(out)
		return false, nil
	case cmdQuit:
		fmt.Fprintln(out, "Ujian belum dikirim. Jalankan ulang untuk melanjutkan.")
		return true, nil
	default:
		fmt.Fprintln(out, "Perintah tidak dikenal, ketik ? untuk bantuan.")
		return false, nil
	}
	show(out, sess)
	return false, nil
}

func show(out io.Writer, sess *examsession.Session) {
	q, pos, ok := sess.Current()
	if !ok {
		return
	}
	renderQuestion(out, q, pos, len(sess.Questions()), sess.Remaining())
	fmt.Fprint(out, "> ")
}

func finish(ctx context.Context, out io.Writer, sess *examsession.Session, auto bool) error {
	res, err := sess.Submit(context.WithoutCancel(ctx), auto)
	if err != nil {
		return err
	}
	renderResult(out, res)
	return nil
}

func openStore(ctx context.Context, path, participant string, log zerolog.Logger) (examsession.SessionStore, func(), error) {
	if path == memoryStore {
		return sessionstore.NewMemory(), func() {}, nil
	}
	db, err := database.NewSQLite(ctx, path, log)
	if err != nil {
		return nil, nil, err
	}
	return sessionstore.NewSQLite(db, participant), func() { db.Close() }, nil
}

func prompt(out io.Writer, in *bufio.Reader, label string) string {
	fmt.Fprint(out, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func readSecret(out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(string(b)), nil
}

// describe turns the errors a participant can act on into Indonesian text.
func describe(err error) string {
	switch {
	case errors.Is(err, examclient.ErrInvalidCredentials):
		return "NISN atau kata sandi salah"
	case errors.Is(err, examsession.ErrInvalidAccessCode):
		return "kode akses tidak valid"
	case errors.Is(err, examsession.ErrExamNotActive):
		return "ujian belum dibuka atau sudah ditutup"
	case errors.Is(err, examsession.ErrAlreadyCompleted):
		return "ujian sudah dikerjakan"
	case errors.Is(err, examsession.ErrSessionNotFound):
		return "sesi ujian tidak ditemukan"
	case errors.Is(err, examclient.ErrRateLimited):
		return "terlalu banyak percobaan, coba lagi nanti"
	}
	return err.Error()
}

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"applyportal/internal/util"
	"applyportal/pkg/storage"
	"applyportal/services/portal/internal/app"
	"applyportal/services/portal/internal/config"
)

// readPassword reads without echo; tests replace it.
var readPassword = term.ReadPassword

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	files, err := storage.New(storage.Config{LocalDir: cfg.UploadDir})
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	appCore, err := app.New(app.Config{DatabaseURL: cfg.DatabaseURL, Storage: files})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if err := run(appCore, os.Args[1:], bufio.NewReader(os.Stdin), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(a *app.App, args []string, in *bufio.Reader, out io.Writer) error {
	form, err := readForm(args, in, out)
	if err != nil {
		return err
	}
	user, err := a.CreateAdmin(form)
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			return errors.New(verr.Message)
		}
		return err
	}
	fmt.Fprintf(out, "Administrador %s creado.\n", user.Email)
	return nil
}

// readForm takes the email and password from flags, prompting for whatever
// is missing. The password is always read twice.
func readForm(args []string, in *bufio.Reader, out io.Writer) (app.AdminForm, error) {
	fs := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	fs.SetOutput(out)
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return app.AdminForm{}, err
	}
	form := app.AdminForm{Email: strings.TrimSpace(*email), Password: *password, ConfirmPassword: *password}
	if form.Email == "" {
		fmt.Fprint(out, "Correo: ")
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return app.AdminForm{}, fmt.Errorf("read email: %w", err)
		}
		form.Email = strings.TrimSpace(line)
	}
	if form.Password == "" {
		pw, err := promptSecret(out, "Contraseña: ")
		if err != nil {
			return app.AdminForm{}, err
		}
		confirm, err := promptSecret(out, "Confirmar contraseña: ")
		if err != nil {
			return app.AdminForm{}, err
		}
		form.Password, form.ConfirmPassword = pw, confirm
	}
	return form, nil
}

func promptSecret(out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

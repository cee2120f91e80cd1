// Package remote выполняет команды на удалённых хостах по SSH.
//
// Каждая команда выполняется в отдельном exec-канале. Вывод читается
// построчно; если за Timeout не пришло ни одной строки, канал
// закрывается и возвращается ErrTimeout.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/ssh"

	"github.com/shaiso/Operon/internal/telemetry"
)

var (
	// ErrTimeout — команда не выдала вывода за отведённое время.
	ErrTimeout = errors.New("command execution timed out due to inactivity")

	// ErrConnect — не удалось подключиться к хосту.
	ErrConnect = errors.New("error connecting to the server")

	// ErrPrivateKey — ключ не прочитан или не разобран.
	ErrPrivateKey = errors.New("failed to load private key")
)

// Target — адрес и учётные данные хоста.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	// PrivateKeyPath — путь к ключу или http(s)-URL. Пусто — вход по паролю.
	// Password тогда используется как passphrase ключа.
	PrivateKeyPath string
}

// Result — результат одной команды.
type Result struct {
	Stdout     []string
	Stderr     []string
	ExitStatus int
}

// Session — открытое SSH-соединение.
type Session interface {
	// Run выполняет команду. timeout — допустимое время без вывода.
	Run(ctx context.Context, command string, timeout time.Duration) (*Result, error)
	// Upload записывает data в файл path на хосте.
	Upload(ctx context.Context, path string, data []byte) error
	Close() error
}

// Dialer открывает сессии.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Session, error)
}

// SSHDialer — Dialer поверх golang.org/x/crypto/ssh.
type SSHDialer struct {
	// ConnectTimeout — таймаут TCP-подключения и рукопожатия.
	ConnectTimeout time.Duration
	http           *resty.Client
}

// NewSSHDialer создаёт Dialer.
func NewSSHDialer(connectTimeout time.Duration) *SSHDialer {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &SSHDialer{
		ConnectTimeout: connectTimeout,
		http:           resty.New().SetTimeout(connectTimeout),
	}
}

// Dial реализует Dialer.
func (d *SSHDialer) Dial(ctx context.Context, target Target) (Session, error) {
	logger := telemetry.FromContext(ctx)

	auth, err := d.authMethods(ctx, target)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	logger.Info("creating ssh session", "user", target.User, "host", target.Host, "port", target.Port)

	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrConnect, addr, err)
	}

	cfg := &ssh.ClientConfig{
		User: target.User,
		Auth: auth,
		// как StrictHostKeyChecking=no
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.ConnectTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrConnect, addr, err)
	}
	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *SSHDialer) authMethods(ctx context.Context, target Target) ([]ssh.AuthMethod, error) {
	if target.PrivateKeyPath == "" {
		return []ssh.AuthMethod{ssh.Password(target.Password)}, nil
	}

	pem, err := d.readKey(ctx, target.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivateKey, err)
	}

	var signer ssh.Signer
	if target.Password != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(target.Password))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivateKey, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (d *SSHDialer) readKey(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "http") {
		return os.ReadFile(path)
	}
	resp, err := d.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("key download %s: status %d", path, resp.StatusCode())
	}
	return resp.Body(), nil
}

// sshSession — Session поверх *ssh.Client.
type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	logger := telemetry.FromContext(ctx)

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("error while executing the command %q: %w", command, err)
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("error while executing the command %q: %w", command, err)
	}

	res := &Result{}
	activity := make(chan struct{}, 1)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	read := func(r io.Reader, dst *[]string, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			*dst = append(*dst, line)
			mu.Unlock()
			logger.Debug("command output", "stream", stream, "line", line)
			select {
			case activity <- struct{}{}:
			default:
			}
		}
	}
	// снимок для выхода до завершения читателей
	snapshot := func() *Result {
		mu.Lock()
		defer mu.Unlock()
		return &Result{
			Stdout: append([]string(nil), res.Stdout...),
			Stderr: append([]string(nil), res.Stderr...),
		}
	}

	wg.Add(2)
	go read(stdout, &res.Stdout, "stdout")
	go read(stderr, &res.Stderr, "stderr")

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- sess.Wait()
	}()

	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			var exitErr *ssh.ExitError
			switch {
			case err == nil:
			case errors.As(err, &exitErr):
				res.ExitStatus = exitErr.ExitStatus()
				logger.Error("command failed", "command", command, "exit_status", res.ExitStatus)
			default:
				return res, fmt.Errorf("command %q: %w", command, err)
			}
			return res, nil

		case <-activity:
			timer.Reset(timeout)

		case <-timer.C:
			logger.Error("command execution timed out, closing channel", "command", command, "timeout", timeout)
			_ = sess.Close()
			return snapshot(), fmt.Errorf("%w: %s", ErrTimeout, command)

		case <-ctx.Done():
			_ = sess.Close()
			return snapshot(), ctx.Err()
		}
	}
}

func (s *sshSession) Upload(ctx context.Context, path string, data []byte) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	defer sess.Close()

	sess.Stdin = bytes.NewReader(data)

	done := make(chan error, 1)
	go func() { done <- sess.Run("cat > " + ShellQuote(path)) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		_ = sess.Close()
		return ctx.Err()
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

// ShellQuote заключает s в одинарные кавычки для POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

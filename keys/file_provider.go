package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

var _ PayerProvider = (*FilePayerProvider)(nil)

// FilePayerProvider loads the payer from a solana-keygen JSON keypair file
// and reloads it when the file changes.
type FilePayerProvider struct {
	logger  logging.Logger
	path    string
	watcher *fsnotify.Watcher

	payer    atomic.Pointer[solana.PrivateKey]
	changeCh chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewFilePayerProvider loads path and starts watching its directory. Editors
// and secret mounts replace files by rename, so the directory is watched
// rather than the file itself.
func NewFilePayerProvider(logger logging.Logger, path string) (*FilePayerProvider, error) {
	if path == "" {
		return nil, errors.New("payer keypair path is required")
	}
	path = expandHome(path)

	p := &FilePayerProvider{
		logger:   logging.ForComponent(logger, logging.ComponentPayerProvider),
		path:     path,
		changeCh: make(chan struct{}, 1),
	}

	key, err := loadKeypairFile(path)
	if err != nil {
		keyLoadErrors.WithLabelValues("file").Inc()
		return nil, err
	}
	p.payer.Store(&key)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch payer keypair directory: %w", err)
	}
	p.watcher = watcher

	payerLoaded.Set(1)
	p.logger.Info().Str(logging.FieldAccount, key.PublicKey().String()).Msg("loaded payer keypair")
	return p, nil
}

// Payer returns the current payer keypair.
func (p *FilePayerProvider) Payer() solana.PrivateKey {
	return *p.payer.Load()
}

// Name returns a human-readable name for this provider.
func (p *FilePayerProvider) Name() string {
	return "file:" + p.path
}

// Reload re-reads the keypair file. A file that fails to parse leaves the
// current payer in place.
func (p *FilePayerProvider) Reload() error {
	key, err := loadKeypairFile(p.path)
	if err != nil {
		keyLoadErrors.WithLabelValues("file").Inc()
		return err
	}

	old := p.payer.Swap(&key)
	keyReloadsTotal.Inc()
	if old == nil || !old.PublicKey().Equals(key.PublicKey()) {
		keyChangesTotal.Inc()
		p.logger.Info().Str(logging.FieldAccount, key.PublicKey().String()).Msg("payer keypair changed")
	}
	return nil
}

// Run reloads the payer on file changes until ctx is cancelled.
func (p *FilePayerProvider) Run(ctx context.Context) error {
	changes := p.WatchForChanges(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := p.Reload(); err != nil {
				p.logger.Warn().Err(err).Msg("failed to reload payer keypair, keeping previous key")
			}
		}
	}
}

// WatchForChanges returns a channel that signals when the keypair file may have changed.
func (p *FilePayerProvider) WatchForChanges(ctx context.Context) <-chan struct{} {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-p.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					p.mu.Lock()
					if !p.closed {
						select {
						case p.changeCh <- struct{}{}:
						default:
						}
					}
					p.mu.Unlock()
				}
			case err, ok := <-p.watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn().Err(err).Msg("file watcher error")
			}
		}
	}()

	return p.changeCh
}

// Close stops watching the file.
func (p *FilePayerProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.watcher != nil {
		_ = p.watcher.Close()
	}
	close(p.changeCh)
	return nil
}

func loadKeypairFile(path string) (solana.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat payer keypair: %w", err)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payer keypair %s: %w", path, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("invalid payer keypair length: expected 64 bytes, got %d", len(key))
	}
	return key, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

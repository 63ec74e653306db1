package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher reloads engine tunables when the yaml file changes.
// Infrastructure values (DB/Redis/NATS addresses, port) are ignored on
// reload; only per-frame tunables may change mid-flight.
func (s *Store) StartWatcher(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Config] fsnotify unavailable (%v), tunables fixed for this run", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		log.Printf("[Config] cannot watch %s (%v), tunables fixed for this run", path, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// Editors often write in two events; let the file settle.
					time.Sleep(100 * time.Millisecond)
					s.reload(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Config] watcher error: %v", err)
			}
		}
	}()
}

func (s *Store) reload(path string) {
	fresh, err := Load(path)
	if err != nil {
		log.Printf("[Config] reload rejected: %v", err)
		return
	}

	// Keep the running infrastructure wiring.
	cur := s.Get()
	fresh.DatabaseURL = cur.DatabaseURL
	fresh.RedisAddr = cur.RedisAddr
	fresh.NATSURL = cur.NATSURL
	fresh.HTTPPort = cur.HTTPPort
	fresh.JWTKey = cur.JWTKey

	s.set(fresh)
	log.Printf("[Config] tunables reloaded from %s", path)
}

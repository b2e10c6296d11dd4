package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Normal return covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	debug := flag.Bool("debug", false, "start the interactive filter console")
	flag.Parse()

	log.Println("Starting backlashctl...")

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	msgChan := make(chan SensorMessage, 10)
	mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
	mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect
	snapshotChan := make(chan FilterSnapshot, 10)

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
	})

	mqttSender := NewMQTTSender(mqttOutgoingChan)

	log.Println("Creating Home Assistant entities...")
	for _, f := range cfg.Filters {
		if err := mqttSender.CreateFilterEntity(f); err != nil {
			cancel()
			log.Fatalf("Failed to create %s entity: %v", f.Name, err)
		}
	}

	// Launch one worker per filter, each the sole owner of its filter state
	routes := make(map[string][]chan<- SensorMessage)
	commandChans := make(map[string]chan<- FilterCommand, len(cfg.Filters))
	for _, f := range cfg.Filters {
		dataChan := make(chan SensorMessage, 10)
		commandChan := make(chan FilterCommand)
		routes[f.InputTopic] = append(routes[f.InputTopic], dataChan)
		commandChans[f.Name] = commandChan

		SafeGo(ctx, cancel, f.Name+"-filter", func(ctx context.Context) {
			filterWorker(ctx, f, dataChan, commandChan, snapshotChan, mqttSender)
		})
	}

	SafeGo(ctx, cancel, "router-worker", func(ctx context.Context) {
		routerWorker(ctx, msgChan, routes)
	})
	log.Printf("Router worker started (%d filters)\n", len(cfg.Filters))

	if *debug {
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, snapshotChan, commandChans)
		})
	}

	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg, msgChan, mqttClientChan)
	})
	log.Println("MQTT worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down...")
	}
	cancel()
}

package main

import (
	"context"
	"log"
)

// routerWorker receives raw sensor messages and fans each one out to the filter
// workers subscribed to its topic. Several filters may share an input topic.
func routerWorker(ctx context.Context, inputChan <-chan SensorMessage, routes map[string][]chan<- SensorMessage) {
	for {
		select {
		case msg := <-inputChan:
			outputs, ok := routes[msg.Topic]
			if !ok {
				log.Printf("Router: no filter for topic %s, dropping\n", msg.Topic)
				continue
			}

			// Non-blocking sends so one slow filter can't stall the others
			for i, ch := range outputs {
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: filter %d for %s channel full, dropping sample\n", i, msg.Topic)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

package checkout

import (
	"context"
	"sync"

	"busticket/internal/models"
)

// Notifier fans purchase session events out to subscribers, by reservation or by
// product. Sends never block: a subscriber whose buffer is full misses the event.
type Notifier struct {
	reservationClients map[string][]chan models.HoldEvent
	reservationMutex   sync.RWMutex

	productClients map[string][]chan models.HoldEvent
	productMutex   sync.RWMutex
}

func NewNotifier() *Notifier {
	return &Notifier{
		reservationClients: make(map[string][]chan models.HoldEvent),
		productClients:     make(map[string][]chan models.HoldEvent),
	}
}

// SubscribeToReservation returns a channel of one session's events. The channel is
// closed once ctx is done.
func (n *Notifier) SubscribeToReservation(ctx context.Context, reservationID string) <-chan models.HoldEvent {
	return subscribe(ctx, &n.reservationMutex, n.reservationClients, reservationID)
}

// SubscribeToProduct returns a channel of the events of every session on a product.
func (n *Notifier) SubscribeToProduct(ctx context.Context, productID string) <-chan models.HoldEvent {
	return subscribe(ctx, &n.productMutex, n.productClients, productID)
}

func (n *Notifier) Emit(event models.HoldEvent) {
	broadcast(&n.reservationMutex, n.reservationClients, event.ReservationID, event)
	broadcast(&n.productMutex, n.productClients, event.ProductID, event)
}

func (n *Notifier) ReservationClientCount(reservationID string) int {
	n.reservationMutex.RLock()
	defer n.reservationMutex.RUnlock()
	return len(n.reservationClients[reservationID])
}

func (n *Notifier) ProductClientCount(productID string) int {
	n.productMutex.RLock()
	defer n.productMutex.RUnlock()
	return len(n.productClients[productID])
}

func subscribe(ctx context.Context, mu *sync.RWMutex, clients map[string][]chan models.HoldEvent, key string) <-chan models.HoldEvent {
	clientChan := make(chan models.HoldEvent, 16)

	mu.Lock()
	clients[key] = append(clients[key], clientChan)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		removeClient(mu, clients, key, clientChan)
	}()

	return clientChan
}

func broadcast(mu *sync.RWMutex, clients map[string][]chan models.HoldEvent, key string, event models.HoldEvent) {
	// Sending under the read lock keeps removeClient from closing a channel mid-send.
	mu.RLock()
	defer mu.RUnlock()

	for _, clientChan := range clients[key] {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func removeClient(mu *sync.RWMutex, clients map[string][]chan models.HoldEvent, key string, clientChan chan models.HoldEvent) {
	mu.Lock()
	defer mu.Unlock()

	list := clients[key]
	for i, ch := range list {
		if ch == clientChan {
			clients[key] = append(list[:i:i], list[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}

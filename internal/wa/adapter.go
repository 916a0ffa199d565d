// Package wa wraps the whatsmeow client: the device store, the pairing
// loop and the translation of whatsmeow events into bridge events.
package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bayup/wabridge/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoClient is returned when the adapter has no live client.
var ErrNoClient = errors.New("whatsapp client not initialized")

// Adapter owns the whatsmeow client and its SQLite device store.
type Adapter struct {
	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	handlers  []whatsmeow.EventHandler
	logger    *zap.Logger
}

// NewAdapter opens the device store at dbPath and creates a client for its
// first device. deviceName is what the phone lists under linked devices.
func NewAdapter(ctx context.Context, dbPath, deviceName string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deviceName != "" {
		wastore.SetOSInfo(deviceName, [3]uint32{0, 1, 0})
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
	}, nil
}

func (a *Adapter) current() (*whatsmeow.Client, error) {
	if a == nil {
		return nil, ErrNoClient
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, ErrNoClient
	}
	return a.client, nil
}

// IsLoggedIn reports whether the device store holds credentials.
func (a *Adapter) IsLoggedIn() bool {
	c, err := a.current()
	return err == nil && c.Store.ID != nil
}

// Connect opens the connection to WhatsApp.
func (a *Adapter) Connect() error {
	c, err := a.current()
	if err != nil {
		return err
	}
	a.logger.Info("connecting to WhatsApp")
	return c.Connect()
}

// Disconnect closes the connection to WhatsApp.
func (a *Adapter) Disconnect() {
	c, err := a.current()
	if err != nil {
		return
	}
	a.logger.Info("disconnecting from WhatsApp")
	c.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events. Handlers
// survive Reset.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
	if a.client != nil {
		a.client.AddEventHandler(handler)
	}
}

// Reset replaces the client with one bound to a fresh device, as needed
// after the account logs out.
func (a *Adapter) Reset(_ context.Context) error {
	if a.container == nil {
		return ErrNoClient
	}
	a.mu.Lock()
	old := a.client
	client := whatsmeow.NewClient(a.container.NewDevice(), nil)
	for _, h := range a.handlers {
		client.AddEventHandler(h)
	}
	a.client = client
	a.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	a.logger.Info("device store reset, pairing required")
	return nil
}

// SendText sends a text message to jid and returns the server message id.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (string, error) {
	c, err := a.current()
	if err != nil {
		return "", err
	}
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := c.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// GetQRChannel returns the pairing channel. It must be called before
// Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	c, err := a.current()
	if err != nil {
		return nil, err
	}
	if c.Store.ID != nil {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := c.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// GetContacts returns the contacts known to the device store, keyed by
// phone-number JID where the LID mapping is known.
func (a *Adapter) GetContacts(ctx context.Context) []store.Contact {
	c, err := a.current()
	if err != nil || c.Store == nil || c.Store.Contacts == nil {
		return nil
	}
	allContacts, err := c.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]store.Contact, 0, len(allContacts))
	for jid, info := range allContacts {
		contacts = append(contacts, store.Contact{
			JID:      a.ResolveLID(ctx, jid.ToNonAD()).String(),
			Name:     info.FullName,
			PushName: info.PushName,
		})
	}
	return contacts
}

// OwnJID returns the linked account without its device suffix, or an
// empty string before pairing.
func (a *Adapter) OwnJID() string {
	c, err := a.current()
	if err != nil || c.Store == nil || c.Store.ID == nil {
		return ""
	}
	return normalize(*c.Store.ID).String()
}

// ResolveLID maps a LID JID to its phone-number JID through the device
// store. Other JIDs, and LIDs without a known mapping, are returned as is.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	c, err := a.current()
	if err != nil || c.Store == nil || c.Store.LIDs == nil {
		return jid
	}
	pn, err := c.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

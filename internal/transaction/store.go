package transaction

import (
	"fmt"
	"sync"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
)

// Store is the thread-safe transaction table Manager keeps its client and
// server transactions in, indexed both by the exact TransactionKey and by a
// looser Call-ID+CSeq (or Via branch) message key for the fallback match
// path in Manager.FindTransactionByMessage.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]Transaction // key -> transaction
	byMessage    map[string][]string    // message key -> transaction keys
	stats        StoreStats

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// StoreStats counts the store's own bookkeeping, separate from Manager's
// traffic-level TransactionStats.
type StoreStats struct {
	TotalTransactions    uint64
	ActiveTransactions   uint64
	CleanedTransactions  uint64
	MessageKeyCollisions uint64
}

// NewStore creates an empty transaction table and starts its background
// sweep of terminated transactions (every 30s).
func NewStore() *Store {
	s := &Store{
		transactions: make(map[string]Transaction),
		byMessage:    make(map[string][]string),
		stopCleanup:  make(chan struct{}),
	}

	s.cleanupTicker = time.NewTicker(30 * time.Second)
	go s.cleanupRoutine()

	return s
}

// Add indexes a newly created transaction by its key and, if it carries a
// request, by its message key. Returns an error if the key is already
// occupied — Manager checks this itself before calling Add, so a hit here
// means a key collision slipped past that check.
func (s *Store) Add(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key().String()

	if _, exists := s.transactions[key]; exists {
		return NewTransactionError(tx.ID(), "add to store", tx.State(),
			fmt.Errorf("transaction with key %s already exists", key))
	}

	s.transactions[key] = tx
	s.stats.TotalTransactions++
	s.stats.ActiveTransactions++

	if req := tx.Request(); req != nil {
		msgKey := generateMessageKey(req)
		s.byMessage[msgKey] = append(s.byMessage[msgKey], key)

		if len(s.byMessage[msgKey]) > 1 {
			s.stats.MessageKeyCollisions++
		}
	}

	return nil
}

// Get looks a transaction up by its exact key.
func (s *Store) Get(key TransactionKey) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[key.String()]
	return tx, ok
}

// GetByID scans the table for a transaction with the given generated ID.
func (s *Store) GetByID(id string) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.ID() == id {
			return tx, true
		}
	}
	return nil, false
}

// FindByMessage returns every transaction indexed under msg's message key —
// the fallback match path used when a response's exact branch doesn't
// round-trip cleanly.
func (s *Store) FindByMessage(msg types.Message) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgKey := generateMessageKey(msg)
	txKeys, ok := s.byMessage[msgKey]
	if !ok {
		return nil
	}

	var result []Transaction
	for _, key := range txKeys {
		if tx, ok := s.transactions[key]; ok {
			result = append(result, tx)
		}
	}

	return result
}

// Remove deletes a transaction from both the key table and the message
// index; called once a transaction reaches Terminated.
func (s *Store) Remove(key TransactionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	tx, exists := s.transactions[keyStr]
	if !exists {
		return false
	}

	delete(s.transactions, keyStr)
	s.stats.ActiveTransactions--

	if req := tx.Request(); req != nil {
		msgKey := generateMessageKey(req)
		s.removeFromMessageIndex(msgKey, keyStr)
	}

	return true
}

// GetAll returns every transaction currently in the table.
func (s *Store) GetAll() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		result = append(result, tx)
	}

	return result
}

// Count returns the number of transactions currently in the table.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.transactions)
}

// Stats returns a copy of the store's bookkeeping counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// Close stops the background sweep and drops every tracked transaction.
func (s *Store) Close() error {
	close(s.stopCleanup)
	s.cleanupTicker.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = make(map[string]Transaction)
	s.byMessage = make(map[string][]string)

	return nil
}

// cleanupRoutine runs the periodic terminated-transaction sweep until Close.
func (s *Store) cleanupRoutine() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes every transaction that reached Terminated but was never
// explicitly Remove'd — a safety net for callers that forget to unregister
// the OnStateChange-driven Remove (Manager itself always does; this exists
// for any other transaction consumer that doesn't).
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string

	for key, tx := range s.transactions {
		if tx.IsTerminated() {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		if tx, ok := s.transactions[key]; ok {
			delete(s.transactions, key)
			s.stats.ActiveTransactions--
			s.stats.CleanedTransactions++

			if req := tx.Request(); req != nil {
				msgKey := generateMessageKey(req)
				s.removeFromMessageIndex(msgKey, key)
			}
		}
	}
}

// removeFromMessageIndex drops one transaction key out of a message key's
// bucket, removing the bucket entirely once it's empty.
func (s *Store) removeFromMessageIndex(msgKey, txKey string) {
	keys := s.byMessage[msgKey]
	if len(keys) == 0 {
		return
	}

	newKeys := make([]string, 0, len(keys)-1)
	for _, k := range keys {
		if k != txKey {
			newKeys = append(newKeys, k)
		}
	}

	if len(newKeys) == 0 {
		delete(s.byMessage, msgKey)
	} else {
		s.byMessage[msgKey] = newKeys
	}
}

// generateMessageKey builds the loose match key for a message: Call-ID plus
// CSeq, falling back to the Via branch when either header is missing.
func generateMessageKey(msg types.Message) string {
	callID := msg.GetHeader("Call-ID")
	cseq := msg.GetHeader("CSeq")

	if callID == "" || cseq == "" {
		via := msg.GetHeader("Via")
		branch := extractBranch(via)
		return branch
	}

	return callID + "|" + cseq
}

// CleanupTerminated forces an immediate sweep instead of waiting for the
// next tick, returning the number of transactions it removed.
func (s *Store) CleanupTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	var toRemove []string

	for key, tx := range s.transactions {
		if tx.IsTerminated() {
			toRemove = append(toRemove, key)
			count++
		}
	}

	for _, key := range toRemove {
		if tx, ok := s.transactions[key]; ok {
			delete(s.transactions, key)
			s.stats.ActiveTransactions--
			s.stats.CleanedTransactions++

			if req := tx.Request(); req != nil {
				msgKey := generateMessageKey(req)
				s.removeFromMessageIndex(msgKey, key)
			}
		}
	}

	return count
}

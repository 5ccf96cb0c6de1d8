package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"tide_kv/pkg/keyspace"
	"tide_kv/pkg/txn"
)

func main() {
	dir, err := os.MkdirTemp("", "tide_kv-driver-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config := keyspace.DefaultConfig(dir)
	config.Logger = logger

	ks, err := keyspace.Open(config)
	if err != nil {
		panic(err)
	}
	defer ks.Close()

	// Test 1: normal read and write.
	must(ks.Update(func(transaction *txn.Txn) error {
		return transaction.Set([]byte("HDD"), []byte("Hard disk"))
	}))
	must(ks.Update(func(transaction *txn.Txn) error {
		return transaction.Set([]byte("HDD"), []byte("Hard disk drive"))
	}))

	must(ks.View(func(transaction *txn.Txn) error {
		value, exists := transaction.Get([]byte("HDD"))
		fmt.Println(exists)
		fmt.Println(string(value.Slice()))
		return nil
	}))

	// Test 2: conflict between two racing transactions.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := ks.Update(func(transaction *txn.Txn) error {
			delayCommit := func() {
				time.Sleep(25 * time.Millisecond)
			}
			_, _ = transaction.Get([]byte("HDD"))
			_ = transaction.Set([]byte("SSD"), []byte("Solid state drive"))
			delayCommit()
			return nil
		})
		if err == nil {
			panic("error should not be nil")
		}
		if !errors.Is(err, txn.TxnConflictErr) {
			panic(err)
		}
	}()

	go func() {
		defer wg.Done()
		err := ks.Update(func(transaction *txn.Txn) error {
			delayCommit := func() {
				time.Sleep(10 * time.Millisecond)
			}
			_ = transaction.Set([]byte("HDD"), []byte("Hard disk"))
			delayCommit()
			return nil
		})
		if err != nil {
			panic(err)
		}
	}()
	wg.Wait()

	must(ks.View(func(transaction *txn.Txn) error {
		value, exists := transaction.Get([]byte("HDD"))
		fmt.Println(exists)
		fmt.Println(string(value.Slice()))
		return nil
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/intellect4all/kvs/kvstore"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	config := kvstore.DefaultConfig("./data")
	config.Logger = logger

	kv, err := kvstore.Open(config)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer kv.Close()

	kv.Set("name", "Alice")
	kv.Set("age", "30")
	kv.Set("city", "NYC")
	kv.Set("city", "Berlin")
	kv.Remove("age")

	name, _, _ := kv.Get("name")
	fmt.Printf("Name: %s\n", name)

	city, _, _ := kv.Get("city")
	fmt.Printf("City: %s\n", city)

	if _, found, _ := kv.Get("age"); !found {
		fmt.Println("Age: Key not found")
	}

	if err := kv.Compact(); err != nil {
		logger.Fatal("compact", zap.Error(err))
	}

	stats := kv.Stats()
	fmt.Printf("Stats: %+v\n", stats)
}

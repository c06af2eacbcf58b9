package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SlotRenderKey returns the cache key for a rendered question slot at a given sequence.
// The sequence is part of the key so an entry can never be served after the slot changes.
func (r *CacheKeyStruct) SlotRenderKey(attemptID int64, slot, sequence int) string {
	return fmt.Sprintf("attempt:%d:slot:%d:seq:%d:html", attemptID, slot, sequence)
}

// QuizEventsChannel returns the Redis PubSub channel name for a quiz's attempt events
func (r *CacheKeyStruct) QuizEventsChannel(quizID int64) string {
	return fmt.Sprintf("quiz:%d:events", quizID)
}

var CacheKey = NewCacheKeyStruct()

package ratchet

import (
	"errors"
	"fmt"
)

const MaxSkip = 1000

var (
	ErrGenerationConsumed = errors.New("message key for generation already consumed")
	ErrSkipLimit          = errors.New("skip limit exceeded")
)

// Chain is the symmetric ratchet of one sender within one epoch. Keys of
// generations that were jumped over are kept in Skipped so out-of-order
// messages can still be opened once.
type Chain struct {
	Key        []byte            `json:"key"`
	Generation uint32            `json:"generation"`
	Skipped    map[uint32][]byte `json:"skipped,omitempty"`
}

func NewChain(key []byte) *Chain {
	return &Chain{Key: key}
}

// Next advances the chain for sending and returns the generation used
// together with its message key.
func (c *Chain) Next() (uint32, []byte, error) {
	gen := c.Generation
	next, msgKey, err := KDFChainKey(c.Key)
	if err != nil {
		return 0, nil, err
	}
	c.Key = next
	c.Generation++
	return gen, msgKey, nil
}

// KeyFor returns the message key for a received generation. Every key is
// handed out at most once.
func (c *Chain) KeyFor(gen uint32) ([]byte, error) {
	if mk, ok := c.Skipped[gen]; ok {
		delete(c.Skipped, gen)
		return mk, nil
	}

	if gen < c.Generation {
		return nil, fmt.Errorf("%w: %d", ErrGenerationConsumed, gen)
	}

	toGenerate := int(gen - c.Generation)
	if toGenerate > MaxSkip {
		return nil, fmt.Errorf("%w: attempting to skip %d keys (max %d)", ErrSkipLimit, toGenerate, MaxSkip)
	}
	if len(c.Skipped)+toGenerate > MaxSkip {
		return nil, fmt.Errorf("%w: have=%d need=%d max=%d", ErrSkipLimit, len(c.Skipped), toGenerate, MaxSkip)
	}

	for c.Generation < gen {
		g, mk, err := c.Next()
		if err != nil {
			return nil, err
		}
		if c.Skipped == nil {
			c.Skipped = make(map[uint32][]byte)
		}
		c.Skipped[g] = mk
	}

	_, mk, err := c.Next()
	if err != nil {
		return nil, err
	}
	return mk, nil
}

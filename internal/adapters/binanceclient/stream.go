package binanceclient

import (
	"context"
	"fmt"
	"time"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

type wsKlineServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// StreamKlines keeps a kline WebSocket open, reconnecting with exponential
// backoff. doneC closes when the stream stops for good; closing stopC or
// cancelling ctx stops it. After MaxReconnectAttempts consecutive failures
// errHandler receives an ErrFeedClosed error.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneC chan struct{}, stopC chan struct{}, err error) {
	op := "StreamKlines"
	if handler == nil {
		return nil, nil, fmt.Errorf("%w: kline handler is required", ports.ErrInvalidRequest)
	}
	if errHandler == nil {
		errHandler = func(error) {}
	}
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}
	wsCtx, cancelWs := context.WithCancel(ctx)

	onKline := func(event *futures.WsKlineEvent) {
		k, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event", fields)
			return
		}
		handler(k)
	}
	onError := func(err error) {
		errHandler(c.handleError(wsCtx, err, op+" WebSocket"))
	}

	doneC = make(chan struct{})
	stopC = make(chan struct{})

	go func() {
		select {
		case <-stopC:
			c.logger.Info(ctx, op+": Received external stop signal", fields)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer close(doneC)
		defer cancelWs()

		attempt := 0
		for wsCtx.Err() == nil {
			innerDone, innerStop, connectErr := c.serve(symbol, interval, onKline, onError)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up", fields)
					errHandler(fmt.Errorf("%w: %s %s after %d attempts: %v", ports.ErrFeedClosed, symbol, interval, attempt, connectErr))
					return
				}
				delay := c.backoff(attempt)
				c.logger.Warn(wsCtx, op+": Connection failed, retrying", map[string]interface{}{"symbol": symbol, "attempt": attempt, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established", fields)
			attempt = 0

			select {
			case <-innerDone:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly, reconnecting", fields)
			case <-wsCtx.Done():
				close(innerStop)
				<-innerDone
				c.logger.Info(ctx, op+": WebSocket stopped", fields)
				return
			}
		}
	}()

	return doneC, stopC, nil
}

// backoff doubles the base delay per failed attempt, capped at one minute.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.reconnectDelay
	for i := 1; i < attempt && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

package adapter

import (
	"context"
	"errors"

	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// FanoutPublisher 把事件依次交给多个发布者，收集所有错误
type FanoutPublisher struct {
	publishers []port.EventPublisher
}

func NewFanoutPublisher(publishers ...port.EventPublisher) *FanoutPublisher {
	out := make([]port.EventPublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &FanoutPublisher{publishers: out}
}

func (f *FanoutPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

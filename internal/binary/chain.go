package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Chain 以构造时确定的顺序持有各层 Provider，tiers[0] 为请求入口。
// 各层通过自身的 next 字段互相引用，Chain 不会在运行期调整顺序。
type Chain struct {
	tiers []Provider
}

// NewChain 组装存储链，至少需要一层。
func NewChain(tiers ...Provider) (*Chain, error) {
	if len(tiers) == 0 {
		return nil, errors.New("binary chain requires at least one tier")
	}
	for i, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("binary chain tier %d is nil", i)
		}
	}
	return &Chain{tiers: append([]Provider(nil), tiers...)}, nil
}

// Head 返回入口层。
func (c *Chain) Head() Provider {
	return c.tiers[0]
}

// Len 返回层数。
func (c *Chain) Len() int {
	return len(c.tiers)
}

// GetStream 交给入口层处理。
func (c *Chain) GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error) {
	sum, err := ParseSHA1(sha1)
	if err != nil {
		return nil, err
	}
	return c.Head().GetStream(ctx, sum)
}

// AddStream 交给入口层处理。
func (c *Chain) AddStream(ctx context.Context, r io.Reader) (Info, error) {
	return c.Head().AddStream(ctx, r)
}

// Delete 依次删除每一层中的内容，任意一层删除成功即返回 true。
// 某一层失败不会阻止其余层继续删除，错误会被合并返回。
func (c *Chain) Delete(ctx context.Context, sha1 string) (bool, error) {
	sum, err := ParseSHA1(sha1)
	if err != nil {
		return false, err
	}

	var (
		deleted bool
		errs    []error
	)
	for i, tier := range c.tiers {
		ok, err := tier.Delete(ctx, sum)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier %d: %w", i, err))
			continue
		}
		deleted = deleted || ok
	}
	return deleted, errors.Join(errs...)
}

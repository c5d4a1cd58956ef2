package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// ErrLookupFailed 规则服务网络/接口错误
// 对当前这次停车检查是终止性的：上报但不在同一次检查内重试
var ErrLookupFailed = errors.New("rules lookup failed")

// Client 停车规则查询客户端
// 按坐标查询街道清扫、冬季禁停、许可区等规则
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	// 缓存：同一街道段的重复停车不必重复请求
	cache   map[string]*models.RuleSet
	cacheMu sync.RWMutex
}

// NewClient 创建规则查询客户端
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		cache:  make(map[string]*models.RuleSet),
	}
}

// checkResponse 规则服务响应
type checkResponse struct {
	Address        string `json:"address"`
	StreetSegment  string `json:"street_segment"`
	StreetCleaning *struct {
		NextDate string `json:"next_date"`
	} `json:"street_cleaning"`
	WinterBan *struct {
		Active     bool `json:"active"`
		Historical bool `json:"historical"`
	} `json:"winter_ban"`
	PermitZone *struct {
		Zone     string `json:"zone"`
		Enforced bool   `json:"enforced"`
	} `json:"permit_zone"`
}

// Check 查询指定坐标的停车规则
func (c *Client) Check(ctx context.Context, lat, lng float64) (*models.RuleSet, error) {
	// 缓存 key 精确到小数点后4位，约11米
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	if rs, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return rs, nil
	}
	c.cacheMu.RUnlock()

	apiURL := fmt.Sprintf("%s/check?lat=%.6f&lng=%.6f&key=%s",
		c.baseURL, lat, lng, url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var result checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err)
	}

	rs := toRuleSet(&result)

	c.cacheMu.Lock()
	c.cache[cacheKey] = rs
	// 限制缓存大小
	if len(c.cache) > 10000 {
		c.cache = make(map[string]*models.RuleSet)
		c.cache[cacheKey] = rs
	}
	c.cacheMu.Unlock()

	c.logger.Debug("Rules lookup succeeded",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", rs.Address))

	return rs, nil
}

// toRuleSet 把服务响应转换为内部模型
func toRuleSet(r *checkResponse) *models.RuleSet {
	rs := &models.RuleSet{
		Address:       r.Address,
		StreetSegment: r.StreetSegment,
	}

	if r.StreetCleaning != nil {
		rule := &models.StreetCleaningRule{}
		if r.StreetCleaning.NextDate != "" {
			if d, err := time.ParseInLocation("2006-01-02", r.StreetCleaning.NextDate, time.Local); err == nil {
				rule.NextDate = &d
			}
		}
		rs.StreetCleaning = rule
	}

	if r.WinterBan != nil {
		rs.WinterBan = &models.WinterBanRule{
			Active:     r.WinterBan.Active,
			Historical: r.WinterBan.Historical,
		}
	}

	if r.PermitZone != nil {
		rs.PermitZone = &models.PermitZoneRule{
			Zone:     r.PermitZone.Zone,
			Enforced: r.PermitZone.Enforced,
		}
	}

	return rs
}

// ClearCache 清空缓存
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*models.RuleSet)
	c.cacheMu.Unlock()
}

// CacheSize 获取缓存大小
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

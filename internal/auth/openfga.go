package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

// OpenFGAClient OpenFGA 客户端
type OpenFGAClient struct {
	client  *client.OpenFgaClient
	storeID string
	modelID string
}

// NewOpenFGAClient 创建 OpenFGA 客户端
func NewOpenFGAClient(apiURL string, storeID string, modelID string) (*OpenFGAClient, error) {
	configuration := client.ClientConfiguration{
		ApiUrl:               apiURL,
		StoreId:              storeID,
		AuthorizationModelId: modelID,
		Credentials: &credentials.Credentials{
			Method: credentials.CredentialsMethodNone,
		},
	}

	fgaClient, err := client.NewSdkClient(&configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}

	return &OpenFGAClient{
		client:  fgaClient,
		storeID: storeID,
		modelID: modelID,
	}, nil
}

// globalObjectID 审核能力按资源类别授予,不区分具体对象
const globalObjectID = "global"

// HasCapability 实现 moderation.PermissionPolicy
// 用户所在组来自令牌,以上下文元组传给 OpenFGA,由模型解析 group#member 授权
func (c *OpenFGAClient) HasCapability(ctx context.Context, actor moderation.Actor, resource moderation.Resource, capability moderation.Capability) (bool, error) {
	user := fmt.Sprintf("user:%s", actor.ID)
	contextual := make([]client.ClientContextualTupleKey, 0, len(actor.Groups))
	for _, group := range actor.Groups {
		contextual = append(contextual, client.ClientContextualTupleKey{
			User:     user,
			Relation: "member",
			Object:   fmt.Sprintf("group:%s", group),
		})
	}

	body := client.ClientCheckRequest{
		User:             user,
		Relation:         string(capability),
		Object:           fmt.Sprintf("%s:%s", resource, globalObjectID),
		ContextualTuples: contextual,
	}
	response, err := c.client.Check(ctx).Body(body).Execute()
	if err != nil {
		return false, fmt.Errorf("failed to check capability: %w", err)
	}
	return response.GetAllowed(), nil
}

// GrantGroupCapability 授予用户组某项能力
func (c *OpenFGAClient) GrantGroupCapability(ctx context.Context, group string, resource moderation.Resource, capability moderation.Capability) error {
	body := client.ClientWriteRequest{
		Writes: []client.ClientTupleKey{
			{
				User:     fmt.Sprintf("group:%s#member", group),
				Relation: string(capability),
				Object:   fmt.Sprintf("%s:%s", resource, globalObjectID),
			},
		},
	}
	if _, err := c.client.Write(ctx).Body(body).Execute(); err != nil {
		return fmt.Errorf("failed to grant capability: %w", err)
	}
	return nil
}

// RevokeGroupCapability 撤销用户组的某项能力
func (c *OpenFGAClient) RevokeGroupCapability(ctx context.Context, group string, resource moderation.Resource, capability moderation.Capability) error {
	body := client.ClientWriteRequest{
		Deletes: []client.ClientTupleKeyWithoutCondition{
			{
				User:     fmt.Sprintf("group:%s#member", group),
				Relation: string(capability),
				Object:   fmt.Sprintf("%s:%s", resource, globalObjectID),
			},
		},
	}
	if _, err := c.client.Write(ctx).Body(body).Execute(); err != nil {
		return fmt.Errorf("failed to revoke capability: %w", err)
	}
	return nil
}

// NewOpenFGAClientWithRetry 带重试的 OpenFGA 客户端创建
func NewOpenFGAClientWithRetry(apiURL string, storeID string, modelID string, maxRetries int, retryInterval time.Duration) (*OpenFGAClient, error) {
	var fgaClient *OpenFGAClient
	var err error

	for i := 0; i < maxRetries; i++ {
		fgaClient, err = NewOpenFGAClient(apiURL, storeID, modelID)
		if err == nil {
			// 测试连接
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, testErr := fgaClient.client.Read(ctx).Execute()
			cancel()
			if testErr == nil {
				return fgaClient, nil
			}
		}

		// 如果不是最后一次重试，等待后重试
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to create OpenFGA client after %d retries: %w", maxRetries, err)
}

// CheckHealth 检查 OpenFGA 连接健康状态
func (c *OpenFGAClient) CheckHealth(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}

	// 尝试执行一个简单的读取操作来检查连接
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Read(ctx).Execute()
	return err == nil
}

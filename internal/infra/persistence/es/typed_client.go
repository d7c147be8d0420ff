package es

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esutil"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
	"go.uber.org/zap"
)

type typedEsClient[D model.Document] struct {
	client *elasticsearch.TypedClient
	logger *zap.Logger
	// 特别说明：这个实例仅用于获取配置信息，不用于存储数据
	// Instance used for getting schema/configuration, not for data storage
	schemaDoc D
}

func InitTypedEsClient[D model.Document](cfg *config.Config, logger *zap.Logger) (TypedEsClient[D], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	typedClient, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
		Addresses: []string{
			cfg.Elasticsearch.Address,
		},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			// 跳过TLS验证（仅在开发环境中使用）
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Elasticsearch client: %s", err)
	}
	return &typedEsClient[D]{client: typedClient, logger: logger}, nil
}

func (tec *typedEsClient[D]) GetClient() *elasticsearch.TypedClient {
	return tec.client
}

func (tec *typedEsClient[D]) CreateIndexWithMapping(ctx context.Context) error {
	// 检查索引是否已存在
	index := tec.schemaDoc.GetIndex()
	mapping := tec.schemaDoc.GetTypeMapping()
	exists, err := tec.client.Indices.Exists(index).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check index existence in es: %s", err)
	}
	if exists {
		tec.logger.Info("索引已存在,跳过创建", zap.String("index", index))
		return nil
	}

	if mapping == nil {
		_, err = tec.client.Indices.Create(index).Do(ctx)
	} else {
		_, err = tec.client.Indices.Create(index).Mappings(mapping).Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to create index in es: %s", err)
	}
	tec.logger.Info("索引创建成功", zap.String("index", index))
	return nil
}

func (tec *typedEsClient[D]) DeleteIndex(ctx context.Context) error {
	index := tec.schemaDoc.GetIndex()
	_, err := tec.client.Indices.Delete(index).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete index in es: %s", err)
	}
	return nil
}

func (tec *typedEsClient[D]) IndexDocWithID(ctx context.Context, doc D) error {
	_, err := tec.client.Index(tec.schemaDoc.GetIndex()).
		Id(doc.GetID()).
		Document(doc).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to index doc to es: %s", err)
	}
	return nil
}

func (tec *typedEsClient[D]) BulkIndexDocsWithID(ctx context.Context, docs []D) error {
	if len(docs) == 0 {
		return nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         tec.schemaDoc.GetIndex(), // 目标索引名称
		Client:        tec.client,               // Elasticsearch 客户端
		NumWorkers:    2,                        // 并发工作协程数
		FlushBytes:    5 * 1024 * 1024,          // 5MB 时自动刷新
		FlushInterval: 30 * time.Second,         // 30秒自动刷新
		// 可选：错误处理回调
		OnError: func(ctx context.Context, err error) {
			tec.logger.Error("bulk indexer error", zap.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %s", err)
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			tec.logger.Error("文档序列化失败", zap.String("id", doc.GetID()), zap.Error(err))
			continue
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",                         // 操作类型：index, create, update, delete
			DocumentID: doc.GetID(),                     // 文档ID
			Body:       strings.NewReader(string(data)), // 文档内容
			OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
				tec.logger.Debug("文档索引成功", zap.String("id", item.DocumentID))
			},
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					tec.logger.Error("文档索引出错", zap.String("id", item.DocumentID), zap.Error(err))
				} else {
					tec.logger.Error("文档索引失败", zap.String("id", item.DocumentID), zap.String("reason", res.Error.Reason))
				}
			},
		})
		if err != nil {
			tec.logger.Error("添加文档到批量索引器失败", zap.String("id", doc.GetID()), zap.Error(err))
		}
	}

	// 刷新并关闭批量索引器（确保所有文档都被处理）
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("failed to close bulk indexer: %s", err)
	}

	stats := bi.Stats()
	tec.logger.Info("批量索引完成",
		zap.Uint64("indexed", stats.NumIndexed),
		zap.Uint64("failed", stats.NumFailed))
	return nil
}

func (tec *typedEsClient[D]) GetDoc(ctx context.Context, id string) (D, error) {
	var doc D
	index := tec.schemaDoc.GetIndex()
	resp, err := tec.client.Get(index, id).Do(ctx)
	if err != nil {
		return doc, fmt.Errorf("failed to get doc from es: %s", err)
	}
	if !resp.Found {
		tec.logger.Debug("未找到id对应doc结果", zap.String("id", id))
		return doc, nil
	}
	if err := json.Unmarshal(resp.Source_, &doc); err != nil {
		return doc, fmt.Errorf("failed to unmarshal source: %s", err)
	}
	return doc, nil
}

func (tec *typedEsClient[D]) CountDocs(ctx context.Context) (int64, error) {
	resp, err := tec.client.Count().
		Index(tec.schemaDoc.GetIndex()).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count docs in es: %s", err)
	}
	return resp.Count, nil
}

// 使用 []D 作为返回类型
func (tec *typedEsClient[D]) SearchDoc(ctx context.Context, query *types.Query, from, size int) ([]D, int64, error) {
	resp, err := tec.client.Search().
		Index(tec.schemaDoc.GetIndex()).
		Query(query).
		From(from).
		Size(size).
		Do(ctx)

	if err != nil {
		return nil, 0, fmt.Errorf("搜索失败: %w", err)
	}

	// 预分配切片容量，避免多次扩容
	results := make([]D, 0, len(resp.Hits.Hits))

	for _, hit := range resp.Hits.Hits {
		// 为每个文档分配新的 D 实例,使用泛型确定绑定结构体
		var doc D
		if err := json.Unmarshal(hit.Source_, &doc); err != nil {
			continue
		}
		// 将 doc 的地址存入切片
		results = append(results, doc)
	}

	return results, resp.Hits.Total.Value, nil
}

// 支持部分更新
func (tec *typedEsClient[D]) UpdateDoc(ctx context.Context, doc D) error {
	_, err := tec.client.Update(tec.schemaDoc.GetIndex(), doc.GetID()).
		Doc(doc).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update doc in es: %s", err)
	}
	return nil
}

func (tec *typedEsClient[D]) DeleteDoc(ctx context.Context, id string) error {
	_, err := tec.client.Delete(tec.schemaDoc.GetIndex(), id).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete doc from es: %s", err)
	}
	return nil
}

func (tec *typedEsClient[D]) BulkDeleteDocs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         tec.schemaDoc.GetIndex(), // 目标索引名称
		Client:        tec.client,               // Elasticsearch 客户端
		NumWorkers:    2,                        // 并发工作协程数
		FlushBytes:    5 * 1024 * 1024,          // 5MB 时自动刷新
		FlushInterval: 30 * time.Second,         // 30秒自动刷新
		// 可选：错误处理回调
		OnError: func(ctx context.Context, err error) {
			tec.logger.Error("bulk indexer error", zap.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %s", err)
	}

	for _, id := range ids {
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "delete", // 操作类型：index, create, update, delete
			DocumentID: id,       // 文档ID
			OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
				tec.logger.Debug("文档删除成功", zap.String("id", item.DocumentID))
			},
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					tec.logger.Error("文档删除出错", zap.String("id", item.DocumentID), zap.Error(err))
				} else {
					tec.logger.Error("文档删除失败", zap.String("id", item.DocumentID), zap.String("reason", res.Error.Reason))
				}
			},
		})
		if err != nil {
			tec.logger.Error("添加文档到批量索引器失败", zap.String("id", id), zap.Error(err))
		}
	}

	// 刷新并关闭批量索引器（确保所有文档都被处理）
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("failed to close bulk indexer: %s", err)
	}

	stats := bi.Stats()
	tec.logger.Info("批量删除完成",
		zap.Uint64("deleted", stats.NumDeleted),
		zap.Uint64("failed", stats.NumFailed))
	return nil
}

package knowledge

import (
	"context"
	"errors"
	"fmt"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

// GRPCOptions Qdrant gRPC客户端配置
type GRPCOptions struct {
	Addr       string
	VectorSize int
	Distance   string
}

type grpcVectorStore struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	vectorSize  int
	distance    qdrantclient.Distance
}

// NewGRPCVectorStore 创建Qdrant向量存储（gRPC接口）
func NewGRPCVectorStore(opts GRPCOptions) (VectorStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6334"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 3072
	}

	conn, err := grpc.NewClient(opts.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
			fmt.Sprintf("connect to qdrant at %s failed", opts.Addr)).WithCause(err)
	}

	return &grpcVectorStore{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		vectorSize:  opts.VectorSize,
		distance:    grpcDistance(opts.Distance),
	}, nil
}

func grpcDistance(value string) qdrantclient.Distance {
	switch formatDistance(value) {
	case "Dot":
		return qdrantclient.Distance_Dot
	case "Euclid":
		return qdrantclient.Distance_Euclid
	default:
		return qdrantclient.Distance_Cosine
	}
}

func (s *grpcVectorStore) EnsureCollection(ctx context.Context, name string) error {
	info, err := s.collections.Get(ctx, &qdrantclient.GetCollectionInfoRequest{
		CollectionName: name,
	})
	if err == nil {
		size := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if size != s.vectorSize {
			return apperrors.NewCollectionConflictError(name, s.vectorSize, size)
		}
		return nil
	}

	_, err = s.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(s.vectorSize),
					Distance: s.distance,
				},
			},
		},
	})
	if err != nil {
		return s.wrapGRPCError("create collection", err)
	}
	return nil
}

func (s *grpcVectorStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	upsertPoints := make([]*qdrantclient.PointStruct, 0, len(points))
	for _, point := range points {
		if len(point.Vector) != s.vectorSize {
			return apperrors.NewValidationError(
				fmt.Sprintf("point %d has vector size %d, collection expects %d", point.ID, len(point.Vector), s.vectorSize))
		}
		upsertPoints = append(upsertPoints, &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Num{Num: point.ID},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: point.Vector},
				},
			},
			Payload: toQdrantPayload(point.Payload),
		})
	}

	wait := true
	_, err := s.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: collection,
		Points:         upsertPoints,
		Wait:           &wait,
	})
	if err != nil {
		return s.wrapGRPCError("upsert", err)
	}
	return nil
}

func (s *grpcVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if err := s.EnsureCollection(ctx, req.Collection); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	searchReq := &qdrantclient.SearchPoints{
		CollectionName: req.Collection,
		Vector:         req.QueryEmbedding,
		Limit:          uint64(req.Limit),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if req.Threshold > 0 {
		threshold := float32(req.Threshold)
		searchReq.ScoreThreshold = &threshold
	}

	resp, err := s.points.Search(ctx, searchReq)
	if err != nil {
		return nil, s.wrapGRPCError("search", err)
	}

	results := make([]SearchMatch, 0, len(resp.GetResult()))
	for _, item := range resp.GetResult() {
		results = append(results, SearchMatch{
			ID:      item.GetId().GetNum(),
			Score:   float64(item.GetScore()),
			Payload: fromQdrantPayload(item.GetPayload()),
		})
	}
	return results, nil
}

func (s *grpcVectorStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.collections.Delete(ctx, &qdrantclient.DeleteCollection{
		CollectionName: name,
	})
	if err != nil {
		return s.wrapGRPCError("delete collection", err)
	}
	return nil
}

func (s *grpcVectorStore) Ready() bool {
	return s.conn != nil
}

// Close 关闭底层gRPC连接
func (s *grpcVectorStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *grpcVectorStore) wrapGRPCError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(operation).WithCause(err)
	}
	return apperrors.NewExternalError(apperrors.ErrCodeVectorStoreError,
		fmt.Sprintf("qdrant %s request failed", operation)).WithCause(err)
}

func toQdrantPayload(payload map[string]interface{}) map[string]*qdrantclient.Value {
	if payload == nil {
		return nil
	}
	converted := make(map[string]*qdrantclient.Value, len(payload))
	for key, val := range payload {
		converted[key] = toQdrantValue(val)
	}
	return converted
}

func toQdrantValue(val interface{}) *qdrantclient.Value {
	switch v := val.(type) {
	case nil:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_NullValue{}}
	case string:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: v}}
	case bool:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_BoolValue{BoolValue: v}}
	case int:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: v}}
	case uint64:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(v)}}
	case float64:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_DoubleValue{DoubleValue: v}}
	case []string:
		values := make([]*qdrantclient.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toQdrantValue(item))
		}
		return &qdrantclient.Value{Kind: &qdrantclient.Value_ListValue{
			ListValue: &qdrantclient.ListValue{Values: values},
		}}
	case []interface{}:
		values := make([]*qdrantclient.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toQdrantValue(item))
		}
		return &qdrantclient.Value{Kind: &qdrantclient.Value_ListValue{
			ListValue: &qdrantclient.ListValue{Values: values},
		}}
	case map[string][]string:
		fields := make(map[string]*qdrantclient.Value, len(v))
		for key, items := range v {
			fields[key] = toQdrantValue(items)
		}
		return &qdrantclient.Value{Kind: &qdrantclient.Value_StructValue{
			StructValue: &qdrantclient.Struct{Fields: fields},
		}}
	case map[string]interface{}:
		fields := make(map[string]*qdrantclient.Value, len(v))
		for key, item := range v {
			fields[key] = toQdrantValue(item)
		}
		return &qdrantclient.Value{Kind: &qdrantclient.Value_StructValue{
			StructValue: &qdrantclient.Struct{Fields: fields},
		}}
	default:
		return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrantclient.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	converted := make(map[string]interface{}, len(payload))
	for key, val := range payload {
		converted[key] = fromQdrantValue(val)
	}
	return converted
}

func fromQdrantValue(val *qdrantclient.Value) interface{} {
	switch kind := val.GetKind().(type) {
	case *qdrantclient.Value_StringValue:
		return kind.StringValue
	case *qdrantclient.Value_BoolValue:
		return kind.BoolValue
	case *qdrantclient.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrantclient.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrantclient.Value_ListValue:
		items := make([]interface{}, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, fromQdrantValue(item))
		}
		return items
	case *qdrantclient.Value_StructValue:
		fields := make(map[string]interface{}, len(kind.StructValue.GetFields()))
		for key, item := range kind.StructValue.GetFields() {
			fields[key] = fromQdrantValue(item)
		}
		return fields
	default:
		return nil
	}
}

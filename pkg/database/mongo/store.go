package mongo

import (
	"FrameFinder/config"
	"FrameFinder/internal/models"
	"FrameFinder/pkg/database"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	videosCollection = "videos"
	framesCollection = "frames"
	configCollection = "configuration"
)

// Store 是 database.FrameStore 接口的MongoDB实现。
type Store struct {
	client *mongo.Client
	videos *mongo.Collection
	frames *mongo.Collection
	config *mongo.Collection
}

// 确保 Store 实现了 database.FrameStore 接口 (编译时检查)
var _ database.FrameStore = (*Store)(nil)

// frameDoc 是 frames 集合中的文档结构。
type frameDoc struct {
	VideoID     string `bson:"videoId"`
	Number      int    `bson:"number"`
	Fingerprint string `bson:"fingerprint"`
	Path        string `bson:"path"`
}

type configDoc struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// NewStore 创建并返回一个新的 Store 实例，并建立与MongoDB的连接。
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	slog.Info("正在连接到 MongoDB...", "uri", cfg.URI)
	clientCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI)
	client, err := mongo.Connect(clientCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(clientCtx, nil); err != nil {
		return nil, err
	}
	slog.Info("MongoDB 连接成功")

	db := client.Database(cfg.Name)
	return &Store{
		client: client,
		videos: db.Collection(videosCollection),
		frames: db.Collection(framesCollection),
		config: db.Collection(configCollection),
	}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	slog.Info("正在确保数据库索引存在...")
	frameIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "fingerprint", Value: 1}, {Key: "videoId", Value: 1}, {Key: "number", Value: 1}},
			Options: options.Index().SetName("idx_fingerprint_video_number"),
		},
		{
			Keys:    bson.D{{Key: "videoId", Value: 1}, {Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_video_number_unique"),
		},
	}
	if _, err := s.frames.Indexes().CreateMany(ctx, frameIndexes); err != nil {
		slog.Error("为 frames 集合创建索引失败", "error", err)
		return err
	}
	slog.Info("Frames 集合索引已验证/创建。")

	videoIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_name"),
		},
	}
	if _, err := s.videos.Indexes().CreateMany(ctx, videoIndexes); err != nil {
		slog.Error("为 videos 集合创建索引失败", "error", err)
		return err
	}
	slog.Info("Videos 集合索引已验证/创建。")
	return nil
}

func (s *Store) InsertVideo(ctx context.Context, video models.Video) error {
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now()
	}
	_, err := s.videos.InsertOne(ctx, video)
	if mongo.IsDuplicateKeyError(err) {
		return database.ErrVideoExists
	}
	return err
}

// InsertFrames 使用有序 BulkWrite 写入一批帧。
// 单机部署没有事务，写入失败时删除本批已写入的帧，保证调用整体失败。
func (s *Store) InsertFrames(ctx context.Context, videoID string, frames []models.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(frames))
	numbers := make([]int, 0, len(frames))
	for _, f := range frames {
		doc := frameDoc{VideoID: videoID, Number: f.Number, Fingerprint: f.Fingerprint, Path: f.Path}
		writes = append(writes, mongo.NewInsertOneModel().SetDocument(doc))
		numbers = append(numbers, f.Number)
	}

	opts := options.BulkWrite().SetOrdered(true)
	if _, err := s.frames.BulkWrite(ctx, writes, opts); err != nil {
		slog.Error("frames BulkWrite 发生错误，回滚本批写入", "videoId", videoID, "count", len(frames), "error", err)
		filter := bson.M{"videoId": videoID, "number": bson.M{"$in": numbers}}
		// 回滚使用独立的 context，调用方取消时也要清理
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, delErr := s.frames.DeleteMany(cleanupCtx, filter); delErr != nil {
			slog.Error("回滚帧写入失败", "videoId", videoID, "error", delErr)
		}
		return err
	}
	return nil
}

// DeleteVideo 先删除帧再删除视频行。
func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	if _, err := s.frames.DeleteMany(ctx, bson.M{"videoId": videoID}); err != nil {
		return fmt.Errorf("删除视频 %s 的帧失败: %w", videoID, err)
	}
	if _, err := s.videos.DeleteOne(ctx, bson.M{"_id": videoID}); err != nil {
		return fmt.Errorf("删除视频 %s 失败: %w", videoID, err)
	}
	return nil
}

func (s *Store) VideoExists(ctx context.Context, videoID string) (bool, error) {
	n, err := s.videos.CountDocuments(ctx, bson.M{"_id": videoID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindByFingerprint 使用聚合管道查询帧，并关联出所属视频的名称和路径。
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]models.FrameMatch, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "fingerprint", Value: fingerprint}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "videoId", Value: 1}, {Key: "number", Value: 1}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: videosCollection},
			{Key: "localField", Value: "videoId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "video"},
		}}},
		bson.D{{Key: "$unwind", Value: "$video"}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "videoId", Value: 1},
			{Key: "number", Value: 1},
			{Key: "path", Value: 1},
			{Key: "videoName", Value: "$video.name"},
			{Key: "videoPath", Value: "$video.path"},
		}}},
	}
	cursor, err := s.frames.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var matches []models.FrameMatch
	if err = cursor.All(ctx, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// ListVideos 返回所有视频及其帧数量。
func (s *Store) ListVideos(ctx context.Context) ([]models.VideoMeta, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: framesCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "videoId"},
			{Key: "pipeline", Value: mongo.Pipeline{
				bson.D{{Key: "$count", Value: "n"}},
			}},
			{Key: "as", Value: "counts"},
		}}},
		bson.D{{Key: "$addFields", Value: bson.D{
			{Key: "frameCount", Value: bson.D{{Key: "$ifNull", Value: bson.A{
				bson.D{{Key: "$arrayElemAt", Value: bson.A{"$counts.n", 0}}}, 0,
			}}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: "counts", Value: 0}}}},
	}
	cursor, err := s.videos.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var list []models.VideoMeta
	if err = cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var doc configDoc
	err := s.config.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", database.ErrConfigNotFound
		}
		return "", err
	}
	return doc.Value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.config.ReplaceOne(ctx, bson.M{"_id": key}, configDoc{Key: key, Value: value}, opts)
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

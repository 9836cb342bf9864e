package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	chunksCollection   = "upload_chunks"
	filesCollection    = "files"
	segmentsCollection = "file_segments"
)

type chunkDoc struct {
	UploadID    string    `bson:"uploadId"`
	ChunkIndex  int       `bson:"chunkIndex"`
	TotalChunks int       `bson:"totalChunks"`
	FileName    string    `bson:"fileName"`
	Folder      string    `bson:"folder"`
	Data        []byte    `bson:"chunkData,omitempty"`
	Size        int       `bson:"size"`
	Checksum    string    `bson:"checksum,omitempty"`
	UploadedAt  time.Time `bson:"uploadDate"`
}

type fileDoc struct {
	ID           primitive.ObjectID `bson:"_id"`
	UploadID     string             `bson:"uploadId,omitempty"`
	Filename     string             `bson:"filename"`
	OriginalName string             `bson:"originalName"`
	MimeType     string             `bson:"mimetype"`
	Size         int64              `bson:"size"`
	Folder       string             `bson:"folder"`
	Category     string             `bson:"category"`
	CreatedAt    time.Time          `bson:"uploadDate"`
	IsChunked    bool               `bson:"isChunked"`
	TotalChunks  int                `bson:"totalChunks,omitempty"`
	Data         []byte             `bson:"fileData,omitempty"`
}

// segmentDoc часть содержимого объекта. Документ MongoDB ограничен 16MB,
// поэтому сегменты лежат отдельно от записи каталога.
type segmentDoc struct {
	FileID primitive.ObjectID `bson:"fileId"`
	Index  int                `bson:"index"`
	Data   []byte             `bson:"data"`
}

// MongoStore реализация Store на основе MongoDB
type MongoStore struct {
	client   *mongo.Client
	chunks   *mongo.Collection
	files    *mongo.Collection
	segments *mongo.Collection
	logger   *slog.Logger
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore подключается к MongoDB и создает индексы
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	ms := &MongoStore{
		client:   client,
		chunks:   db.Collection(chunksCollection),
		files:    db.Collection(filesCollection),
		segments: db.Collection(segmentsCollection),
		logger:   logger,
	}

	if err := ms.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return ms, nil
}

func (ms *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := ms.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uploadId", Value: 1}, {Key: "chunkIndex", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create %s index: %w", chunksCollection, err)
	}

	_, err = ms.files.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "folder", Value: 1}, {Key: "uploadDate", Value: -1}}},
		{Keys: bson.D{{Key: "uploadId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", filesCollection, err)
	}

	_, err = ms.segments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fileId", Value: 1}, {Key: "index", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create %s index: %w", segmentsCollection, err)
	}

	return nil
}

// PutChunk заменяет документ чанка с тем же (uploadId, chunkIndex) или вставляет новый
func (ms *MongoStore) PutChunk(ctx context.Context, rec ChunkRecord) (bool, error) {
	doc := chunkDoc{
		UploadID:    rec.UploadID,
		ChunkIndex:  rec.ChunkIndex,
		TotalChunks: rec.TotalChunks,
		FileName:    rec.FileName,
		Folder:      rec.Folder,
		Data:        rec.Data,
		Size:        len(rec.Data),
		Checksum:    rec.Checksum,
		UploadedAt:  rec.UploadedAt,
	}

	filter := bson.M{"uploadId": rec.UploadID, "chunkIndex": rec.ChunkIndex}
	res, err := ms.chunks.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return false, err
	}

	return res.MatchedCount > 0, nil
}

// ListChunks возвращает чанки сессии
func (ms *MongoStore) ListChunks(ctx context.Context, uploadID string) ([]ChunkRecord, error) {
	return ms.findChunks(ctx, bson.M{"uploadId": uploadID}, options.Find())
}

func (ms *MongoStore) findChunks(ctx context.Context, filter any, opts *options.FindOptions) ([]ChunkRecord, error) {
	cur, err := ms.chunks.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var docs []chunkDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	chunks := make([]ChunkRecord, 0, len(docs))
	for _, d := range docs {
		chunks = append(chunks, ChunkRecord{
			UploadID:    d.UploadID,
			ChunkIndex:  d.ChunkIndex,
			TotalChunks: d.TotalChunks,
			FileName:    d.FileName,
			Folder:      d.Folder,
			Data:        d.Data,
			Size:        d.Size,
			Checksum:    d.Checksum,
			UploadedAt:  d.UploadedAt,
		})
	}
	return chunks, nil
}

// DeleteChunks удаляет все чанки сессии
func (ms *MongoStore) DeleteChunks(ctx context.Context, uploadID string) (int, error) {
	res, err := ms.chunks.DeleteMany(ctx, bson.M{"uploadId": uploadID})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// GetSession сворачивает метаданные чанков одной сессии
func (ms *MongoStore) GetSession(ctx context.Context, uploadID string) (*SessionInfo, error) {
	opts := options.Find().SetProjection(bson.M{"chunkData": 0})
	chunks, err := ms.findChunks(ctx, bson.M{"uploadId": uploadID}, opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}

	info := summarize(uploadID, chunks)
	return &info, nil
}

// ListSessions группирует чанки по сессиям, не загружая их содержимое
func (ms *MongoStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	opts := options.Find().SetProjection(bson.M{"chunkData": 0})
	chunks, err := ms.findChunks(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]ChunkRecord)
	var order []string
	for _, c := range chunks {
		if _, ok := grouped[c.UploadID]; !ok {
			order = append(order, c.UploadID)
		}
		grouped[c.UploadID] = append(grouped[c.UploadID], c)
	}

	sessions := make([]SessionInfo, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, summarize(id, grouped[id]))
	}
	return sessions, nil
}

// CreateObject пишет сегменты, затем запись каталога. Пока записи нет,
// объект не виден читателям; при ошибке сегменты удаляются.
func (ms *MongoStore) CreateObject(ctx context.Context, obj *StoredObject) error {
	id := primitive.NewObjectID()

	doc := fileDoc{
		ID:           id,
		UploadID:     obj.UploadID,
		Filename:     obj.Filename,
		OriginalName: obj.OriginalName,
		MimeType:     obj.MimeType,
		Size:         obj.Size,
		Folder:       obj.Folder,
		Category:     obj.Category,
		CreatedAt:    obj.CreatedAt,
		IsChunked:    obj.IsChunked,
	}

	if obj.IsChunked {
		doc.TotalChunks = len(obj.Chunks)
		segments := make([]any, 0, len(obj.Chunks))
		for i, data := range obj.Chunks {
			segments = append(segments, segmentDoc{FileID: id, Index: i, Data: data})
		}
		if len(segments) > 0 {
			if _, err := ms.segments.InsertMany(ctx, segments); err != nil {
				ms.dropSegments(id)
				return fmt.Errorf("insert segments: %w", err)
			}
		}
	} else {
		doc.Data = obj.Data
	}

	if _, err := ms.files.InsertOne(ctx, doc); err != nil {
		ms.dropSegments(id)
		return fmt.Errorf("insert file: %w", err)
	}

	obj.ID = id.Hex()
	obj.TotalChunks = doc.TotalChunks
	return nil
}

func (ms *MongoStore) dropSegments(id primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := ms.segments.DeleteMany(ctx, bson.M{"fileId": id}); err != nil {
		ms.logger.Error("failed to drop orphaned segments", "fileId", id.Hex(), "error", err)
	}
}

// GetObject читает запись каталога и собирает сегменты по порядку
func (ms *MongoStore) GetObject(ctx context.Context, id string) (*StoredObject, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc fileDoc
	if err := ms.files.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	obj := fromFileDoc(doc)
	if !doc.IsChunked {
		return obj, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}})
	cur, err := ms.segments.Find(ctx, bson.M{"fileId": oid}, opts)
	if err != nil {
		return nil, err
	}
	var segments []segmentDoc
	if err := cur.All(ctx, &segments); err != nil {
		return nil, err
	}
	if len(segments) != doc.TotalChunks {
		return nil, fmt.Errorf("object %s: expected %d segments, found %d", id, doc.TotalChunks, len(segments))
	}

	obj.Chunks = make([][]byte, 0, len(segments))
	for _, s := range segments {
		obj.Chunks = append(obj.Chunks, s.Data)
	}
	return obj, nil
}

// HasObject проверяет наличие записи каталога
func (ms *MongoStore) HasObject(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	n, err := ms.files.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindByUploadID ищет объект, собранный из указанной сессии
func (ms *MongoStore) FindByUploadID(ctx context.Context, uploadID string) (*StoredObject, error) {
	opts := options.FindOne().SetProjection(bson.M{"fileData": 0})

	var doc fileDoc
	if err := ms.files.FindOne(ctx, bson.M{"uploadId": uploadID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromFileDoc(doc), nil
}

// ListObjects возвращает записи папки без содержимого, новые первыми
func (ms *MongoStore) ListObjects(ctx context.Context, folder string) ([]StoredObject, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "uploadDate", Value: -1}}).
		SetProjection(bson.M{"fileData": 0})

	cur, err := ms.files.Find(ctx, bson.M{"folder": folder}, opts)
	if err != nil {
		return nil, err
	}
	var docs []fileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	objects := make([]StoredObject, 0, len(docs))
	for _, d := range docs {
		objects = append(objects, *fromFileDoc(d))
	}
	return objects, nil
}

// DeleteObject удаляет запись каталога, затем ее сегменты
func (ms *MongoStore) DeleteObject(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	res, err := ms.files.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	if _, err := ms.segments.DeleteMany(ctx, bson.M{"fileId": oid}); err != nil {
		return fmt.Errorf("delete segments of %s: %w", id, err)
	}
	return nil
}

// Close закрывает соединение
func (ms *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func fromFileDoc(d fileDoc) *StoredObject {
	return &StoredObject{
		ID:           d.ID.Hex(),
		UploadID:     d.UploadID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		MimeType:     d.MimeType,
		Size:         d.Size,
		Folder:       d.Folder,
		Category:     d.Category,
		CreatedAt:    d.CreatedAt,
		IsChunked:    d.IsChunked,
		TotalChunks:  d.TotalChunks,
		Data:         d.Data,
	}
}

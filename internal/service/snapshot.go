package service

import (
	"context"

	"therapy_backend/internal/model"
)

type SnapshotBuilder struct {
	Catalog ContentCatalog
}

func NewSnapshotBuilder(catalog ContentCatalog) *SnapshotBuilder {
	return &SnapshotBuilder{Catalog: catalog}
}

// Build 复制模块标题、免责声明与有序题目；结果不引用任何在线数据
func (b *SnapshotBuilder) Build(ctx context.Context, moduleID uint) (*model.ModuleSnapshot, error) {
	module, err := b.Catalog.FindModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	questions, err := b.Catalog.FindQuestions(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	snapshot := &model.ModuleSnapshot{
		Title:      module.Title,
		Disclaimer: module.Disclaimer,
		Questions:  make([]model.SnapshotQuestion, 0, len(questions)),
	}
	for _, q := range questions {
		choices := make([]model.Choice, len(q.Choices))
		copy(choices, q.Choices)
		snapshot.Questions = append(snapshot.Questions, model.SnapshotQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Choices: choices,
		})
	}
	return snapshot, nil
}

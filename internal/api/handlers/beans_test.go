package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brewcast/internal/types"
)

func newBeanRouter(store BeanStore) http.Handler {
	return newRouter(NewBeanHandler(store, testLogger()).RegisterRoutes)
}

func TestBeans_List(t *testing.T) {
	store := &mockBeanStore{}
	store.On("ListBeans", mock.Anything).Return([]types.Bean{
		{ID: 1, UserID: 1, Name: "ケニア AA", Origin: "ケニア", UserName: "コーヒー愛好家", RecipeCount: 30},
	}, nil)

	rec := do(t, newBeanRouter(store), http.MethodGet, "/v1/beans", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var beans []types.Bean
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &beans))
	require.Len(t, beans, 1)
	assert.Equal(t, 30, beans[0].RecipeCount)
}

func TestBeans_ListEmpty(t *testing.T) {
	store := &mockBeanStore{}
	store.On("ListBeans", mock.Anything).Return(nil, nil)

	rec := do(t, newBeanRouter(store), http.MethodGet, "/v1/beans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(decode(t, rec).Data))
}

func TestBeans_UserBeans(t *testing.T) {
	store := &mockBeanStore{}
	store.On("ListUserBeans", mock.Anything, int64(2)).Return([]types.Bean{{ID: 3, UserID: 2}}, nil)
	store.On("ListUserBeans", mock.Anything, int64(99)).
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))

	router := newBeanRouter(store)

	rec := do(t, router, http.MethodGet, "/v1/users/2/beans", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/users/99/beans", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/users/abc/beans", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNumberOfCalls(t, "ListUserBeans", 2)
}

func TestBeans_Stats(t *testing.T) {
	store := &mockBeanStore{}
	store.On("Stats", mock.Anything).Return(types.DatabaseStats{Users: 3, Beans: 8, Recipes: 240, BeansWithData: 8}, nil)

	rec := do(t, newBeanRouter(store), http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":3,"beans":8,"recipes":240,"beans_with_data":8}`, string(decode(t, rec).Data))
}

func TestBeans_StoreError(t *testing.T) {
	store := &mockBeanStore{}
	store.On("Stats", mock.Anything).Return(types.DatabaseStats{},
		types.NewAppError(types.ErrCodeInternalDB, "database error", nil))

	rec := do(t, newBeanRouter(store), http.MethodGet, "/v1/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), decode(t, rec).Error.Code)
}

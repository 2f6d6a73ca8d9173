package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

func rbacContext(t *testing.T, claims *models.JWTClaims, paramID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/"+paramID, nil)
	c.Params = gin.Params{{Key: "id", Value: paramID}}
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}
	return c, recorder
}

func roleClaims(userID string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: role, Permissions: models.PermissionsForRole(role)}
}

func TestRequireRolesAdmitsListedRole(t *testing.T) {
	c, recorder := rbacContext(t, roleClaims("staff-1", models.RoleAdmin), "u1")

	RequireRoles(AllowSelf, string(models.RoleAdmin), string(models.RoleCEO))(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireRolesAdmitsRecordOwner(t *testing.T) {
	c, recorder := rbacContext(t, roleClaims("u1", models.RoleStudent), "u1")

	RequireRoles(AllowSelf, string(models.RoleAdmin), string(models.RoleCEO))(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireRolesRejectsOtherUsersRecord(t *testing.T) {
	c, recorder := rbacContext(t, roleClaims("u2", models.RoleStudent), "u1")

	RequireRoles(AllowSelf, string(models.RoleAdmin), string(models.RoleCEO))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRequireRolesWithoutSelfIgnoresParamMatch(t *testing.T) {
	c, recorder := rbacContext(t, roleClaims("u1", models.RoleStudent), "u1")

	RequireRoles(string(models.RoleAdmin))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRequireRolesWithoutClaimsIsUnauthorized(t *testing.T) {
	c, recorder := rbacContext(t, nil, "u1")

	RequireRoles(AllowSelf, string(models.RoleAdmin))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
